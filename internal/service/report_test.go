package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/godilite/incident-reporter/internal/pipeline"
	"github.com/godilite/incident-reporter/internal/repository/models"
)

func ts(month, day, hour int) *time.Time {
	t := time.Date(2024, time.Month(month), day, hour, 0, 0, 0, time.UTC)
	return &t
}

func sysID(seed string) string {
	return (seed + strings.Repeat("0", 64))[:64]
}

func viewsForProcess(name string, month, count int) []pipeline.JoinedIncident {
	out := make([]pipeline.JoinedIncident, count)
	for i := range out {
		out[i] = pipeline.JoinedIncident{
			SysID:       sysID(name),
			ProcessName: name,
			OpenedAt:    ts(month, 1+i%27, 9),
		}
	}
	return out
}

func TestTopProcessFailures(t *testing.T) {
	svc := NewReportService("https://domain.com", zap.NewNop())

	t.Run("ranks by count with name tie-break", func(t *testing.T) {
		var views []pipeline.JoinedIncident
		views = append(views, viewsForProcess("ProcA", 1, 10)...)
		views = append(views, viewsForProcess("ProcB", 1, 7)...)
		views = append(views, viewsForProcess("ProcC", 1, 10)...)

		ranked := svc.TopProcessFailures(views, 1, 2)

		require.Len(t, ranked, 3)
		assert.Equal(t, models.ProcessFailure{ProcessName: "ProcA", FailureCount: 10, Rank: 1}, ranked[0])
		assert.Equal(t, models.ProcessFailure{ProcessName: "ProcC", FailureCount: 10, Rank: 2}, ranked[1])
		assert.Equal(t, models.ProcessFailure{ProcessName: "ProcB", FailureCount: 7, Rank: 3}, ranked[2])
	})

	t.Run("caps at five groups", func(t *testing.T) {
		var views []pipeline.JoinedIncident
		for _, name := range []string{"P1", "P2", "P3", "P4", "P5", "P6", "P7"} {
			views = append(views, viewsForProcess(name, 2, 2)...)
		}

		ranked := svc.TopProcessFailures(views, 1, 3)
		assert.Len(t, ranked, 5)
	})

	t.Run("filters by opened month", func(t *testing.T) {
		var views []pipeline.JoinedIncident
		views = append(views, viewsForProcess("InRange", 3, 4)...)
		views = append(views, viewsForProcess("OutOfRange", 9, 20)...)
		views = append(views, pipeline.JoinedIncident{ProcessName: "NeverOpened", OpenedAt: nil})

		ranked := svc.TopProcessFailures(views, 2, 4)

		require.Len(t, ranked, 1)
		assert.Equal(t, "InRange", ranked[0].ProcessName)
		assert.Equal(t, 4, ranked[0].FailureCount)
	})
}

func TestTopBusinessAreas(t *testing.T) {
	svc := NewReportService("https://domain.com", zap.NewNop())

	area := func(name string, count int) []pipeline.JoinedIncident {
		out := make([]pipeline.JoinedIncident, count)
		for i := range out {
			out[i] = pipeline.JoinedIncident{BusinessArea: name}
		}
		return out
	}

	t.Run("ties are not broken", func(t *testing.T) {
		var views []pipeline.JoinedIncident
		views = append(views, area("X", 5)...)
		views = append(views, area("Y", 5)...)
		views = append(views, area("Z", 3)...)

		leaders := svc.TopBusinessAreas(views)

		require.Len(t, leaders, 2)
		assert.Equal(t, models.BusinessAreaLeader{BusinessArea: "X", IssueCount: 5}, leaders[0])
		assert.Equal(t, models.BusinessAreaLeader{BusinessArea: "Y", IssueCount: 5}, leaders[1])
	})

	t.Run("single leader", func(t *testing.T) {
		var views []pipeline.JoinedIncident
		views = append(views, area("Ops", 9)...)
		views = append(views, area("Sales", 4)...)

		leaders := svc.TopBusinessAreas(views)

		require.Len(t, leaders, 1)
		assert.Equal(t, "Ops", leaders[0].BusinessArea)
	})

	t.Run("no records", func(t *testing.T) {
		assert.Empty(t, svc.TopBusinessAreas(nil))
	})
}

func TestAverageResolutionDays(t *testing.T) {
	svc := NewReportService("https://domain.com", zap.NewNop())

	t.Run("single one-day incident averages 1.00", func(t *testing.T) {
		views := []pipeline.JoinedIncident{{
			OpenedAt:   ts(1, 1, 0),
			ResolvedAt: ts(1, 2, 0),
		}}

		got, err := svc.AverageResolutionDays(views, 1, 12)
		require.NoError(t, err)
		assert.Equal(t, 1.00, got.AverageResolutionDays)
		assert.Equal(t, 1, got.SampleSize)
	})

	t.Run("unresolved incidents are excluded, not zero", func(t *testing.T) {
		views := []pipeline.JoinedIncident{
			{OpenedAt: ts(1, 1, 0), ResolvedAt: ts(1, 3, 0)},
			{OpenedAt: ts(1, 1, 0), ResolvedAt: nil},
			{OpenedAt: nil, ResolvedAt: ts(1, 5, 0)},
		}

		got, err := svc.AverageResolutionDays(views, 1, 12)
		require.NoError(t, err)
		assert.Equal(t, 2.00, got.AverageResolutionDays)
		assert.Equal(t, 1, got.SampleSize)
	})

	t.Run("rounds to two decimals", func(t *testing.T) {
		// 36h and 12h resolve to an average of exactly one day; mixing
		// in 8h forces a repeating decimal that must round.
		views := []pipeline.JoinedIncident{
			{OpenedAt: ts(2, 1, 0), ResolvedAt: ts(2, 2, 12)},
			{OpenedAt: ts(2, 1, 0), ResolvedAt: ts(2, 1, 12)},
			{OpenedAt: ts(2, 1, 0), ResolvedAt: ts(2, 1, 8)},
		}

		got, err := svc.AverageResolutionDays(views, 1, 12)
		require.NoError(t, err)
		// (1.5 + 0.5 + 0.333...) / 3 = 0.7777... -> 0.78
		assert.Equal(t, 0.78, got.AverageResolutionDays)
		assert.Equal(t, 3, got.SampleSize)
	})

	t.Run("no qualifying records", func(t *testing.T) {
		got, err := svc.AverageResolutionDays(nil, 1, 12)
		require.NoError(t, err)
		assert.Zero(t, got.AverageResolutionDays)
		assert.Zero(t, got.SampleSize)
	})
}

func TestNoteDigests(t *testing.T) {
	svc := NewReportService("https://domain.com", zap.NewNop())

	t.Run("joins chronologically ordered notes with blank line", func(t *testing.T) {
		views := []pipeline.JoinedIncident{{
			SysID: sysID("a"),
			Notes: []pipeline.Note{
				{At: ts(1, 1, 0), Text: "A"},
				{At: ts(1, 2, 0), Text: "B"},
			},
		}}

		digests := svc.NoteDigests(views)

		require.Len(t, digests, 1)
		assert.Equal(t, "A\n\nB", digests[0].Digest)
	})

	t.Run("incidents without notes produce no row", func(t *testing.T) {
		views := []pipeline.JoinedIncident{
			{SysID: sysID("b"), Notes: []pipeline.Note{{At: ts(1, 1, 0), Text: "only"}}},
			{SysID: sysID("a")},
		}

		digests := svc.NoteDigests(views)

		require.Len(t, digests, 1)
		assert.Equal(t, sysID("b"), digests[0].IncidentID)
	})
}

func TestIncidentLink(t *testing.T) {
	svc := NewReportService("https://domain.com", zap.NewNop())

	id := sysID("1234")
	assert.Equal(t, "https://domain.com/incident.do?sys_id="+id, svc.IncidentLink(id))

	t.Run("trailing slash on domain is tolerated", func(t *testing.T) {
		slashed := NewReportService("https://domain.com/", zap.NewNop())
		assert.Equal(t, "https://domain.com/incident.do?sys_id="+id, slashed.IncidentLink(id))
	})
}

func TestBuildReport(t *testing.T) {
	svc := NewReportService("https://domain.com", zap.NewNop())
	ctx := context.Background()

	views := []pipeline.JoinedIncident{
		{
			SysID:        sysID("a"),
			ProcessName:  "PayrollSync",
			BusinessArea: "Finance",
			OpenedAt:     ts(1, 1, 0),
			ResolvedAt:   ts(1, 2, 0),
			Notes:        []pipeline.Note{{At: ts(1, 1, 6), Text: "looking"}},
		},
		{
			SysID:        sysID("b"),
			ProcessName:  "InvoiceMatch",
			BusinessArea: "Finance",
			OpenedAt:     ts(2, 10, 0),
		},
	}
	stats := pipeline.Stats{RowsRead: 3, RowsJoined: 2, RowsExcluded: 1}

	t.Run("assembles all five result sets", func(t *testing.T) {
		report, err := svc.BuildReport(ctx, views, stats, 1, 3, time.Now().UTC())
		require.NoError(t, err)

		assert.Len(t, report.ProcessFailures, 2)
		assert.Len(t, report.BusinessAreaLeaders, 1)
		assert.Equal(t, 1.00, report.Resolution.AverageResolutionDays)
		assert.Len(t, report.NoteDigests, 1)
		assert.Len(t, report.IncidentLinks, 2)
		assert.NotEmpty(t, report.Run.RunID)
		assert.Equal(t, 3, report.Run.RowsRead)
		assert.Equal(t, 1, report.Run.RowsExcluded)
	})

	t.Run("metric outputs are identical across invocations", func(t *testing.T) {
		first, err := svc.BuildReport(ctx, views, stats, 1, 3, time.Now().UTC())
		require.NoError(t, err)
		second, err := svc.BuildReport(ctx, views, stats, 1, 3, time.Now().UTC())
		require.NoError(t, err)

		assert.Equal(t, first.ProcessFailures, second.ProcessFailures)
		assert.Equal(t, first.BusinessAreaLeaders, second.BusinessAreaLeaders)
		assert.Equal(t, first.Resolution, second.Resolution)
		assert.Equal(t, first.NoteDigests, second.NoteDigests)
		assert.Equal(t, first.IncidentLinks, second.IncidentLinks)
	})

	t.Run("rejects an inverted month range", func(t *testing.T) {
		_, err := svc.BuildReport(ctx, views, stats, 9, 3, time.Now().UTC())
		assert.ErrorIs(t, err, ErrInvalidMonthRange)
	})
}
