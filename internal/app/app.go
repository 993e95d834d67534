package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/godilite/incident-reporter/internal/config"
	"github.com/godilite/incident-reporter/internal/pipeline"
	"github.com/godilite/incident-reporter/internal/refdata"
	"github.com/godilite/incident-reporter/internal/repository"
	"github.com/godilite/incident-reporter/internal/repository/models"
	"github.com/godilite/incident-reporter/internal/service"
	"github.com/godilite/incident-reporter/pkg/cache"
	dbbuilder "github.com/godilite/incident-reporter/pkg/database"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrViolationRate     = errors.New("schema violation rate exceeded")
	ErrNoRunCached       = errors.New("no run summary available")
)

const (
	lastRunKey = "reporter:last_run"
	lastRunTTL = 45 * 24 * time.Hour
)

// App wires the batch pipeline together: two stores, an optional cache,
// and the transform/metric stages in between.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	sourceDB *sql.DB
	reportDB *sql.DB
	cache    *cache.Cache

	incidents *repository.IncidentRepository
	reports   *repository.ReportRepository
	service   *service.ReportService
}

func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	sourceDB, err := dbbuilder.New(
		dbbuilder.WithDriver(cfg.DBDriver),
		dbbuilder.WithDataSource(cfg.SourceDBPath),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: source store: %v", ErrSourceUnavailable, err)
	}
	logger.Info("source store ready", zap.String("path", cfg.SourceDBPath))

	reportDB, err := dbbuilder.New(
		dbbuilder.WithDriver(cfg.DBDriver),
		dbbuilder.WithDataSource(cfg.ReportDBPath),
	)
	if err != nil {
		sourceDB.Close()
		return nil, fmt.Errorf("%w: reporting store: %v", ErrSourceUnavailable, err)
	}
	logger.Info("reporting store ready", zap.String("path", cfg.ReportDBPath))

	var cacheClient *cache.Cache
	if cfg.RedisAddr != "" {
		cacheClient, err = cache.New(ctx, cache.WithAddress(cfg.RedisAddr))
		if err != nil {
			logger.Warn("cache unavailable, continuing without it",
				zap.String("addr", cfg.RedisAddr), zap.Error(err))
			cacheClient = nil
		} else {
			logger.Info("cache client initialized", zap.String("addr", cfg.RedisAddr))
		}
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		sourceDB:  sourceDB,
		reportDB:  reportDB,
		cache:     cacheClient,
		incidents: repository.NewIncidentRepository(sourceDB),
		reports:   repository.NewReportRepository(reportDB),
		service:   service.NewReportService(cfg.BaseDomain, logger),
	}, nil
}

// Run executes one batch: read everything, resolve and join, compute the
// five metrics, then publish atomically. Per-row issues are recovered
// and counted; only unreachable stores or an excessive schema-violation
// rate abort the run.
func (a *App) Run(ctx context.Context) (models.Report, error) {
	startedAt := time.Now().UTC()

	policy, err := refdata.ParseMergePolicy(a.cfg.MergePolicy)
	if err != nil {
		return models.Report{}, fmt.Errorf("invalid configuration: %w", err)
	}
	norm, err := pipeline.NewNormalizer(a.cfg.Timezone)
	if err != nil {
		return models.Report{}, fmt.Errorf("invalid configuration: %w", err)
	}

	// All reads happen up front; no I/O mid-transform.
	incidents, err := a.incidents.GetIncidents(ctx)
	if err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	assignees, err := a.incidents.GetAssignees(ctx)
	if err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	callers, err := a.incidents.GetCallers(ctx)
	if err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	states, err := a.incidents.GetStateCodes(ctx)
	if err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	priorities, err := a.incidents.GetPriorityCodes(ctx)
	if err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	notes, err := a.incidents.GetWorkNotes(ctx)
	if err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	attachments, err := a.incidents.GetAttachmentCounts(ctx)
	if err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	a.logger.Info("sources loaded",
		zap.Int("incidents", len(incidents)),
		zap.Int("assignees", len(assignees)),
		zap.Int("callers", len(callers)),
		zap.Int("incidents_with_notes", len(notes)))

	resolver := refdata.NewResolver(assignees, callers, states, priorities, policy)
	joiner := pipeline.NewJoiner(resolver, norm, a.logger)

	views, stats, err := joiner.Join(ctx, incidents, notes, attachments)
	if err != nil {
		return models.Report{}, fmt.Errorf("join failed: %w", err)
	}

	if stats.RowsRead > 0 {
		rate := float64(stats.RowsExcluded) / float64(stats.RowsRead)
		if rate > a.cfg.MaxViolationRate {
			return models.Report{}, fmt.Errorf("%w: %.2f%% of %d rows excluded (limit %.2f%%)",
				ErrViolationRate, rate*100, stats.RowsRead, a.cfg.MaxViolationRate*100)
		}
	}

	report, err := a.service.BuildReport(ctx, views, stats, a.cfg.MonthFrom, a.cfg.MonthTo, startedAt)
	if err != nil {
		return models.Report{}, err
	}

	if err := a.reports.EnsureSchema(ctx); err != nil {
		return models.Report{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if err := a.reports.Publish(ctx, report); err != nil {
		return models.Report{}, fmt.Errorf("publish failed: %w", err)
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, lastRunKey, report.Run, lastRunTTL); err != nil {
			a.logger.Warn("failed to cache run summary", zap.Error(err))
		}
	}

	a.logger.Info("run published",
		zap.String("run_id", report.Run.RunID),
		zap.Int("rows_read", stats.RowsRead),
		zap.Int("rows_joined", stats.RowsJoined),
		zap.Int("rows_excluded", stats.RowsExcluded),
		zap.Int("malformed_values", stats.MalformedValues),
		zap.Int("unresolved_refs", stats.UnresolvedRefs))

	return report, nil
}

// LastRunSummary fetches the most recent run report, preferring the
// cache and falling back to the reporting store.
func (a *App) LastRunSummary(ctx context.Context) (models.RunReport, error) {
	if a.cache != nil {
		var run models.RunReport
		if err := a.cache.Get(ctx, lastRunKey, &run); err == nil {
			return run, nil
		}
	}

	run, err := a.reports.LatestRun(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RunReport{}, ErrNoRunCached
		}
		return models.RunReport{}, err
	}
	return run, nil
}

// Close releases the stores and the cache client.
func (a *App) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("cache shutdown error", zap.Error(err))
		}
	}
	if err := a.reportDB.Close(); err != nil {
		a.logger.Error("reporting store shutdown error", zap.Error(err))
	}
	if err := a.sourceDB.Close(); err != nil {
		a.logger.Error("source store shutdown error", zap.Error(err))
	}
	_ = a.logger.Sync()
}
