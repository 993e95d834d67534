package models

import "time"

// RawIncident is one fact row exactly as stored. The source store is
// loosely typed, so every cell is carried as text and interpreted later.
type RawIncident struct {
	SysID            string
	ShortDescription string
	State            string
	Priority         string
	OpenedAt         string
	ResolvedAt       string
	ClosedAt         string
	AssignedTo       string
	CallerID         string
	BusinessArea     string
}

// UserRow is one entry from either user directory (assignees or callers).
type UserRow struct {
	UserID string
	Name   string
	Email  string
}

// CodeRow maps an integer code to its display name (state or priority).
type CodeRow struct {
	Code int64
	Name string
}

// WorkNoteRow is one note attached to an incident, timestamp still raw.
type WorkNoteRow struct {
	IncidentID string
	NoteText   string
	CreatedAt  string
}

type ProcessFailure struct {
	ProcessName  string
	FailureCount int
	Rank         int
}

type BusinessAreaLeader struct {
	BusinessArea string
	IssueCount   int
}

type ResolutionSummary struct {
	AverageResolutionDays float64
	SampleSize            int
}

type NoteDigest struct {
	IncidentID string
	Digest     string
}

type IncidentLink struct {
	IncidentID string
	WebLink    string
}

// RunReport summarizes one batch run: what was read, what was recovered
// per row, and what was excluded outright.
type RunReport struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	MonthFrom       int
	MonthTo         int
	RowsRead        int
	RowsJoined      int
	RowsExcluded    int
	MalformedValues int
	UnresolvedRefs  int
	AttachmentRows  int
}

// Report is the full output of one run: the five metric result sets plus
// the run report, published together or not at all.
type Report struct {
	ProcessFailures     []ProcessFailure
	BusinessAreaLeaders []BusinessAreaLeader
	Resolution          ResolutionSummary
	NoteDigests         []NoteDigest
	IncidentLinks       []IncidentLink
	Run                 RunReport
}
