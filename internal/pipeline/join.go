package pipeline

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/godilite/incident-reporter/internal/refdata"
	"github.com/godilite/incident-reporter/internal/repository/models"
)

// sysIDLength is the fixed width of an incident primary key after
// sanitization. Rows that fail this check are excluded and counted.
const sysIDLength = 64

// Note is one work-note entry after cleaning, ordered by creation time.
type Note struct {
	At   *time.Time
	Text string
}

// JoinedIncident is the denormalized view of a single incident: the fact
// row plus resolved dimensions and derived fields. It is the sole input
// to metric computation.
type JoinedIncident struct {
	SysID            string
	ShortDescription string
	ProcessName      string
	StateName        string
	PriorityName     string
	OpenedAt         *time.Time
	ResolvedAt       *time.Time
	ClosedAt         *time.Time
	Assignee         refdata.UserDetail
	Caller           refdata.UserDetail
	BusinessArea     string
	Notes            []Note
	AttachmentCount  int
}

// Stats counts per-row issues recovered or excluded during the join.
// Partitions accumulate their own Stats and the totals are summed, so
// parallel runs report the same counts as sequential ones.
type Stats struct {
	RowsRead        int
	RowsJoined      int
	RowsExcluded    int
	MalformedValues int
	UnresolvedRefs  int
}

func (s *Stats) add(o Stats) {
	s.RowsRead += o.RowsRead
	s.RowsJoined += o.RowsJoined
	s.RowsExcluded += o.RowsExcluded
	s.MalformedValues += o.MalformedValues
	s.UnresolvedRefs += o.UnresolvedRefs
}

// Joiner left-joins the fact stream against the resolved dimensions.
// Every surviving fact row appears in the output whether or not any
// lookup succeeds.
type Joiner struct {
	resolver *refdata.Resolver
	norm     *Normalizer
	logger   *zap.Logger
}

func NewJoiner(resolver *refdata.Resolver, norm *Normalizer, logger *zap.Logger) *Joiner {
	if resolver == nil {
		panic("resolver must not be nil")
	}
	if norm == nil {
		panic("normalizer must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Joiner{resolver: resolver, norm: norm, logger: logger}
}

// Join transforms every fact row into a JoinedIncident. Rows whose
// primary key is not exactly 64 characters after cleaning are excluded
// and counted; nothing else removes a row. Partitions of the input are
// processed in parallel and merged in input order, so output is
// identical to a sequential pass.
func (j *Joiner) Join(ctx context.Context, incidents []models.RawIncident, notes map[string][]models.WorkNoteRow, attachments map[string]int) ([]JoinedIncident, Stats, error) {
	parts := runtime.GOMAXPROCS(0)
	if parts > len(incidents) {
		parts = len(incidents)
	}
	if parts < 1 {
		parts = 1
	}

	results := make([][]JoinedIncident, parts)
	partStats := make([]Stats, parts)

	g, ctx := errgroup.WithContext(ctx)
	chunk := (len(incidents) + parts - 1) / parts
	for p := 0; p < parts; p++ {
		p := p
		lo := p * chunk
		hi := lo + chunk
		if hi > len(incidents) {
			hi = len(incidents)
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out := make([]JoinedIncident, 0, hi-lo)
			var st Stats
			for _, raw := range incidents[lo:hi] {
				view, ok := j.joinOne(raw, notes, attachments, &st)
				if ok {
					out = append(out, view)
				}
			}
			results[p] = out
			partStats[p] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, err
	}

	var total Stats
	joined := make([]JoinedIncident, 0, len(incidents))
	for p := 0; p < parts; p++ {
		joined = append(joined, results[p]...)
		total.add(partStats[p])
	}
	return joined, total, nil
}

func (j *Joiner) joinOne(raw models.RawIncident, notes map[string][]models.WorkNoteRow, attachments map[string]int, st *Stats) (JoinedIncident, bool) {
	st.RowsRead++

	sysID := Clean(raw.SysID)
	if len(sysID) != sysIDLength {
		st.RowsExcluded++
		j.logger.Warn("excluding incident with malformed primary key",
			zap.String("sys_id", sysID),
			zap.Int("length", len(sysID)))
		return JoinedIncident{}, false
	}

	desc := strings.TrimSpace(Clean(raw.ShortDescription))
	view := JoinedIncident{
		SysID:            sysID,
		ShortDescription: desc,
		ProcessName:      DeriveProcessName(desc),
		OpenedAt:         j.coerceTime(raw.OpenedAt, "opened_at", sysID, st),
		ResolvedAt:       j.coerceTime(raw.ResolvedAt, "resolved_at", sysID, st),
		ClosedAt:         j.coerceTime(raw.ClosedAt, "closed_at", sysID, st),
		AttachmentCount:  attachments[sysID],
	}

	view.StateName = j.resolveCode(raw.State, "state", sysID, j.resolver.StateName, st)
	view.PriorityName = j.resolveCode(raw.Priority, "priority", sysID, j.resolver.PriorityName, st)
	view.Assignee = j.resolveUser(raw.AssignedTo, "assigned_to", sysID, st)
	view.Caller = j.resolveUser(raw.CallerID, "caller_id", sysID, st)

	area := strings.TrimSpace(Clean(raw.BusinessArea))
	if area == "" {
		area = refdata.Unknown
	}
	view.BusinessArea = area

	view.Notes = j.cleanNotes(notes[sysID], sysID, st)

	st.RowsJoined++
	return view, true
}

func (j *Joiner) coerceTime(raw, field, sysID string, st *Stats) *time.Time {
	cleaned := Clean(raw)
	t := CoerceTimestamp(cleaned)
	if t == nil {
		if strings.TrimSpace(cleaned) != "" {
			st.MalformedValues++
			j.logger.Warn("unparseable timestamp nulled",
				zap.String("field", field),
				zap.String("sys_id", sysID),
				zap.String("value", cleaned))
		}
		return nil
	}
	return j.norm.Localize(t)
}

func (j *Joiner) resolveCode(raw, field, sysID string, lookup func(int64) (string, bool), st *Stats) string {
	cleaned := Clean(raw)
	n := CoerceNumber(cleaned)
	if n == nil {
		if strings.TrimSpace(cleaned) != "" {
			st.MalformedValues++
			j.logger.Warn("unparseable code nulled",
				zap.String("field", field),
				zap.String("sys_id", sysID),
				zap.String("value", cleaned))
		}
		return refdata.Unknown
	}
	name, ok := lookup(int64(*n))
	if !ok {
		st.UnresolvedRefs++
		j.logger.Warn("unresolved code",
			zap.String("field", field),
			zap.String("sys_id", sysID),
			zap.Int64("code", int64(*n)))
	}
	return name
}

func (j *Joiner) resolveUser(raw, field, sysID string, st *Stats) refdata.UserDetail {
	id := strings.TrimSpace(Clean(raw))
	user, ok := j.resolver.User(id)
	if !ok && id != "" {
		st.UnresolvedRefs++
		j.logger.Warn("unresolved user reference",
			zap.String("field", field),
			zap.String("sys_id", sysID),
			zap.String("user_id", id))
	}
	return user
}

// cleanNotes sanitizes note text, coerces creation timestamps, and sorts
// chronologically. Notes with no parseable timestamp sort first; the
// sort is stable so source order breaks remaining ties.
func (j *Joiner) cleanNotes(rows []models.WorkNoteRow, sysID string, st *Stats) []Note {
	if len(rows) == 0 {
		return nil
	}
	out := make([]Note, 0, len(rows))
	for _, row := range rows {
		cleaned := Clean(row.CreatedAt)
		at := CoerceTimestamp(cleaned)
		if at == nil && strings.TrimSpace(cleaned) != "" {
			st.MalformedValues++
			j.logger.Warn("unparseable work note timestamp nulled",
				zap.String("sys_id", sysID),
				zap.String("value", cleaned))
		}
		out = append(out, Note{At: j.norm.Localize(at), Text: Clean(row.NoteText)})
	}
	sort.SliceStable(out, func(a, b int) bool {
		switch {
		case out[a].At == nil:
			return out[b].At != nil
		case out[b].At == nil:
			return false
		default:
			return out[a].At.Before(*out[b].At)
		}
	})
	return out
}

// DeriveProcessName extracts the failing process from a short
// description: strip a leading "Process " or "PROCESS: " (either prefix,
// any case), trim, and take the first whitespace-delimited token.
func DeriveProcessName(desc string) string {
	lower := strings.ToLower(desc)
	switch {
	case strings.HasPrefix(lower, "process: "):
		desc = desc[len("process: "):]
	case strings.HasPrefix(lower, "process "):
		desc = desc[len("process "):]
	}
	fields := strings.Fields(desc)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
