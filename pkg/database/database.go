package database

import (
	"database/sql"
	"fmt"
	"time"
)

type Options struct {
	Driver        string
	DataSource    string
	MaxOpenConns  int
	MaxIdleConns  int
	ConnMaxIdle   time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

type Option func(*Options)

func WithDriver(driver string) Option {
	return func(o *Options) { o.Driver = driver }
}

func WithDataSource(dsn string) Option {
	return func(o *Options) { o.DataSource = dsn }
}

func WithMaxOpenConns(count int) Option {
	return func(o *Options) { o.MaxOpenConns = count }
}

func WithRetry(attempts int, delay time.Duration) Option {
	return func(o *Options) {
		o.RetryAttempts = attempts
		o.RetryDelay = delay
	}
}

// New opens a connection pool and verifies it with a ping. A store that
// stays unreachable after the retries is a fatal condition for a batch
// run, so the error is returned rather than deferred to first use.
func New(opts ...Option) (*sql.DB, error) {
	options := &Options{
		Driver:        "sqlite3",
		DataSource:    ":memory:",
		MaxOpenConns:  10,
		MaxIdleConns:  2,
		ConnMaxIdle:   time.Minute,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
	for _, opt := range opts {
		opt(options)
	}

	if options.Driver == "" {
		return nil, fmt.Errorf("database driver cannot be empty")
	}
	if options.DataSource == "" {
		return nil, fmt.Errorf("database data source cannot be empty")
	}

	var lastErr error
	for i := 0; i < options.RetryAttempts; i++ {
		db, err := sql.Open(options.Driver, options.DataSource)
		if err == nil {
			db.SetMaxOpenConns(options.MaxOpenConns)
			db.SetMaxIdleConns(options.MaxIdleConns)
			db.SetConnMaxIdleTime(options.ConnMaxIdle)

			if err = db.Ping(); err == nil {
				return db, nil
			}
			db.Close()
		}
		lastErr = err

		if i < options.RetryAttempts-1 {
			time.Sleep(time.Duration(i+1) * options.RetryDelay)
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", options.RetryAttempts, lastErr)
}
