package refdata

import (
	"fmt"

	"github.com/godilite/incident-reporter/internal/repository/models"
)

// Unknown is the sentinel used whenever a dimension lookup misses.
// Partial enrichment never removes a row from the joined view.
const Unknown = "Unknown"

// MergePolicy decides which user directory wins when the assignee and
// caller directories both carry the same user id.
type MergePolicy string

const (
	// CallerWins keeps the caller-directory entry on collision. This is
	// the default: the caller directory is loaded second.
	CallerWins MergePolicy = "caller_wins"
	// AssigneeWins keeps the assignee-directory entry on collision.
	AssigneeWins MergePolicy = "assignee_wins"
)

func ParseMergePolicy(s string) (MergePolicy, error) {
	switch MergePolicy(s) {
	case CallerWins, AssigneeWins:
		return MergePolicy(s), nil
	case "":
		return CallerWins, nil
	}
	return "", fmt.Errorf("unknown merge policy %q", s)
}

// UserDetail is the consolidated display record for one user id.
type UserDetail struct {
	ID    string
	Name  string
	Email string
}

// Resolver holds the per-run dimension mappings. Built once before the
// join starts and read-only afterwards.
type Resolver struct {
	users      map[string]UserDetail
	states     map[int64]string
	priorities map[int64]string
}

func NewResolver(assignees, callers []models.UserRow, states, priorities []models.CodeRow, policy MergePolicy) *Resolver {
	return &Resolver{
		users:      mergeUsers(assignees, callers, policy),
		states:     codeIndex(states),
		priorities: codeIndex(priorities),
	}
}

// mergeUsers unions the two directories into one id-keyed index with an
// explicit collision rule, rather than depending on load order.
func mergeUsers(assignees, callers []models.UserRow, policy MergePolicy) map[string]UserDetail {
	users := make(map[string]UserDetail, len(assignees)+len(callers))
	for _, row := range assignees {
		users[row.UserID] = UserDetail{ID: row.UserID, Name: row.Name, Email: row.Email}
	}
	for _, row := range callers {
		if _, exists := users[row.UserID]; exists && policy == AssigneeWins {
			continue
		}
		users[row.UserID] = UserDetail{ID: row.UserID, Name: row.Name, Email: row.Email}
	}
	return users
}

func codeIndex(rows []models.CodeRow) map[int64]string {
	idx := make(map[int64]string, len(rows))
	for _, row := range rows {
		idx[row.Code] = row.Name
	}
	return idx
}

// User resolves a user id. A miss returns the Unknown sentinel and
// false; the row still reaches aggregation.
func (r *Resolver) User(id string) (UserDetail, bool) {
	if u, ok := r.users[id]; ok {
		return u, true
	}
	return UserDetail{ID: id, Name: Unknown}, false
}

func (r *Resolver) StateName(code int64) (string, bool) {
	if name, ok := r.states[code]; ok {
		return name, true
	}
	return Unknown, false
}

func (r *Resolver) PriorityName(code int64) (string, bool) {
	if name, ok := r.priorities[code]; ok {
		return name, true
	}
	return Unknown, false
}
