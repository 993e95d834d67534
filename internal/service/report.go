package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/godilite/incident-reporter/internal/pipeline"
	"github.com/godilite/incident-reporter/internal/repository/models"
)

const (
	topProcessLimit = 5
	secondsPerDay   = 86400

	noteSeparator = "\n\n"
)

var ErrInvalidMonthRange = errors.New("invalid month range")

// ReportService computes the five reporting metrics over the joined
// incident view. Each metric is independent and stateless; BuildReport
// runs all five and assembles the publishable report.
type ReportService struct {
	baseDomain string
	logger     *zap.Logger
}

func NewReportService(baseDomain string, logger *zap.Logger) *ReportService {
	if logger == nil {
		l, _ := zap.NewProduction()
		logger = l
	}
	return &ReportService{
		baseDomain: strings.TrimRight(baseDomain, "/"),
		logger:     logger,
	}
}

// BuildReport computes every metric for the inclusive month range and
// wraps the results with the run summary.
func (s *ReportService) BuildReport(ctx context.Context, views []pipeline.JoinedIncident, stats pipeline.Stats, monthFrom, monthTo int, startedAt time.Time) (models.Report, error) {
	if monthFrom < 1 || monthTo > 12 || monthFrom > monthTo {
		return models.Report{}, fmt.Errorf("%w: %d..%d", ErrInvalidMonthRange, monthFrom, monthTo)
	}
	if err := ctx.Err(); err != nil {
		return models.Report{}, err
	}

	resolution, err := s.AverageResolutionDays(views, monthFrom, monthTo)
	if err != nil {
		return models.Report{}, err
	}

	report := models.Report{
		ProcessFailures:     s.TopProcessFailures(views, monthFrom, monthTo),
		BusinessAreaLeaders: s.TopBusinessAreas(views),
		Resolution:          resolution,
		NoteDigests:         s.NoteDigests(views),
		IncidentLinks:       s.IncidentLinks(views),
		Run: models.RunReport{
			RunID:           uuid.NewString(),
			StartedAt:       startedAt,
			FinishedAt:      time.Now().UTC(),
			MonthFrom:       monthFrom,
			MonthTo:         monthTo,
			RowsRead:        stats.RowsRead,
			RowsJoined:      stats.RowsJoined,
			RowsExcluded:    stats.RowsExcluded,
			MalformedValues: stats.MalformedValues,
			UnresolvedRefs:  stats.UnresolvedRefs,
			AttachmentRows:  countAttachments(views),
		},
	}

	s.logger.Info("report computed",
		zap.Int("process_failures", len(report.ProcessFailures)),
		zap.Int("business_area_leaders", len(report.BusinessAreaLeaders)),
		zap.Float64("average_resolution_days", report.Resolution.AverageResolutionDays),
		zap.Int("note_digests", len(report.NoteDigests)),
		zap.Int("incident_links", len(report.IncidentLinks)))

	return report, nil
}

// TopProcessFailures ranks processes by incident count within the month
// range, highest first. Equal counts are ordered by process name
// ascending so the ranking is deterministic. At most five groups are
// returned.
func (s *ReportService) TopProcessFailures(views []pipeline.JoinedIncident, monthFrom, monthTo int) []models.ProcessFailure {
	counts := make(map[string]int)
	for _, v := range views {
		if !monthInRange(v.OpenedAt, monthFrom, monthTo) {
			continue
		}
		counts[v.ProcessName]++
	}

	ranked := make([]models.ProcessFailure, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, models.ProcessFailure{ProcessName: name, FailureCount: count})
	}
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].FailureCount != ranked[b].FailureCount {
			return ranked[a].FailureCount > ranked[b].FailureCount
		}
		return ranked[a].ProcessName < ranked[b].ProcessName
	})

	if len(ranked) > topProcessLimit {
		ranked = ranked[:topProcessLimit]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// TopBusinessAreas returns every business area whose incident count
// equals the maximum. Ties are deliberately not broken; multiple leaders
// come back together, ordered by name for stable output.
func (s *ReportService) TopBusinessAreas(views []pipeline.JoinedIncident) []models.BusinessAreaLeader {
	counts := make(map[string]int)
	max := 0
	for _, v := range views {
		counts[v.BusinessArea]++
		if counts[v.BusinessArea] > max {
			max = counts[v.BusinessArea]
		}
	}

	var leaders []models.BusinessAreaLeader
	for area, count := range counts {
		if count == max {
			leaders = append(leaders, models.BusinessAreaLeader{BusinessArea: area, IssueCount: count})
		}
	}
	sort.Slice(leaders, func(a, b int) bool {
		return leaders[a].BusinessArea < leaders[b].BusinessArea
	})
	return leaders
}

// AverageResolutionDays averages opened-to-resolved elapsed time over
// incidents opened within the month range, reported in days rounded to
// two decimal places. Incidents missing either timestamp are excluded
// from the sample, not counted as zero.
func (s *ReportService) AverageResolutionDays(views []pipeline.JoinedIncident, monthFrom, monthTo int) (models.ResolutionSummary, error) {
	var totalSeconds int64
	var n int
	for _, v := range views {
		if !monthInRange(v.OpenedAt, monthFrom, monthTo) {
			continue
		}
		if v.ResolvedAt == nil {
			continue
		}
		totalSeconds += int64(v.ResolvedAt.Sub(*v.OpenedAt).Seconds())
		n++
	}
	if n == 0 {
		return models.ResolutionSummary{}, nil
	}

	avg, err := averageDays(totalSeconds, n)
	if err != nil {
		return models.ResolutionSummary{}, fmt.Errorf("average resolution time: %w", err)
	}
	return models.ResolutionSummary{AverageResolutionDays: avg, SampleSize: n}, nil
}

// averageDays divides exactly in decimal and rounds once at the end, so
// the published figure never carries binary-float drift.
func averageDays(totalSeconds int64, n int) (float64, error) {
	ctx := apd.BaseContext.WithPrecision(34)
	ctx.Rounding = apd.RoundHalfUp

	var avg apd.Decimal
	if _, err := ctx.Quo(&avg, apd.New(totalSeconds, 0), apd.New(int64(n), 0)); err != nil {
		return 0, err
	}
	if _, err := ctx.Quo(&avg, &avg, apd.New(secondsPerDay, 0)); err != nil {
		return 0, err
	}

	var rounded apd.Decimal
	if _, err := ctx.Quantize(&rounded, &avg, -2); err != nil {
		return 0, err
	}
	f, err := rounded.Float64()
	if err != nil {
		return 0, err
	}
	return f, nil
}

// NoteDigests concatenates each incident's work notes, oldest first,
// separated by a blank line. Incidents without notes produce no row.
// Rows are ordered by incident id.
func (s *ReportService) NoteDigests(views []pipeline.JoinedIncident) []models.NoteDigest {
	var digests []models.NoteDigest
	for _, v := range views {
		if len(v.Notes) == 0 {
			continue
		}
		texts := make([]string, len(v.Notes))
		for i, note := range v.Notes {
			texts[i] = note.Text
		}
		digests = append(digests, models.NoteDigest{
			IncidentID: v.SysID,
			Digest:     strings.Join(texts, noteSeparator),
		})
	}
	sort.Slice(digests, func(a, b int) bool {
		return digests[a].IncidentID < digests[b].IncidentID
	})
	return digests
}

// IncidentLinks builds the direct record link for every incident, ordered
// by incident id.
func (s *ReportService) IncidentLinks(views []pipeline.JoinedIncident) []models.IncidentLink {
	links := make([]models.IncidentLink, 0, len(views))
	for _, v := range views {
		links = append(links, models.IncidentLink{
			IncidentID: v.SysID,
			WebLink:    s.IncidentLink(v.SysID),
		})
	}
	sort.Slice(links, func(a, b int) bool {
		return links[a].IncidentID < links[b].IncidentID
	})
	return links
}

// IncidentLink returns the direct URL for one incident record.
func (s *ReportService) IncidentLink(sysID string) string {
	return fmt.Sprintf("%s/incident.do?sys_id=%s", s.baseDomain, sysID)
}

// monthInRange reports whether the timestamp's month component falls in
// the inclusive range. Nil timestamps never qualify.
func monthInRange(t *time.Time, monthFrom, monthTo int) bool {
	if t == nil {
		return false
	}
	m := int(t.Month())
	return m >= monthFrom && m <= monthTo
}

func countAttachments(views []pipeline.JoinedIncident) int {
	total := 0
	for _, v := range views {
		total += v.AttachmentCount
	}
	return total
}
