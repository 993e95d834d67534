package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/godilite/incident-reporter/internal/repository/models"
)

// IncidentRepository reads the fact stream and reference sources. Every
// fact cell is scanned as nullable text; interpretation is the
// pipeline's job, not the reader's.
type IncidentRepository struct {
	db *sql.DB
}

func NewIncidentRepository(db *sql.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

func (r *IncidentRepository) GetIncidents(ctx context.Context) ([]models.RawIncident, error) {
	const query = `
		SELECT sys_id, short_description, state, priority,
		       opened_at, resolved_at, closed_at,
		       assigned_to, caller_id, business_area
		FROM incidents
		ORDER BY sys_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query GetIncidents: %w", err)
	}
	defer rows.Close()

	var results []models.RawIncident
	for rows.Next() {
		var cells [10]sql.NullString
		dests := make([]any, len(cells))
		for i := range cells {
			dests[i] = &cells[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("scan GetIncidents row: %w", err)
		}
		results = append(results, models.RawIncident{
			SysID:            cells[0].String,
			ShortDescription: cells[1].String,
			State:            cells[2].String,
			Priority:         cells[3].String,
			OpenedAt:         cells[4].String,
			ResolvedAt:       cells[5].String,
			ClosedAt:         cells[6].String,
			AssignedTo:       cells[7].String,
			CallerID:         cells[8].String,
			BusinessArea:     cells[9].String,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate GetIncidents: %w", err)
	}
	return results, nil
}

func (r *IncidentRepository) GetAssignees(ctx context.Context) ([]models.UserRow, error) {
	return r.queryUsers(ctx, "GetAssignees", `
		SELECT user_id, name, email FROM assignee_directory ORDER BY user_id
	`)
}

func (r *IncidentRepository) GetCallers(ctx context.Context) ([]models.UserRow, error) {
	return r.queryUsers(ctx, "GetCallers", `
		SELECT user_id, name, email FROM caller_directory ORDER BY user_id
	`)
}

func (r *IncidentRepository) queryUsers(ctx context.Context, op, query string) ([]models.UserRow, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", op, err)
	}
	defer rows.Close()

	var results []models.UserRow
	for rows.Next() {
		var u models.UserRow
		var name, email sql.NullString
		if err := rows.Scan(&u.UserID, &name, &email); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", op, err)
		}
		u.Name, u.Email = name.String, email.String
		results = append(results, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", op, err)
	}
	return results, nil
}

func (r *IncidentRepository) GetStateCodes(ctx context.Context) ([]models.CodeRow, error) {
	return r.queryCodes(ctx, "GetStateCodes", `
		SELECT code, name FROM state_codes ORDER BY code
	`)
}

func (r *IncidentRepository) GetPriorityCodes(ctx context.Context) ([]models.CodeRow, error) {
	return r.queryCodes(ctx, "GetPriorityCodes", `
		SELECT code, name FROM priority_codes ORDER BY code
	`)
}

func (r *IncidentRepository) queryCodes(ctx context.Context, op, query string) ([]models.CodeRow, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", op, err)
	}
	defer rows.Close()

	var results []models.CodeRow
	for rows.Next() {
		var c models.CodeRow
		if err := rows.Scan(&c.Code, &c.Name); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", op, err)
		}
		results = append(results, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", op, err)
	}
	return results, nil
}

// GetWorkNotes returns all work notes keyed by incident id. Source order
// within an incident is preserved so the pipeline's chronological sort
// can break timestamp ties stably.
func (r *IncidentRepository) GetWorkNotes(ctx context.Context) (map[string][]models.WorkNoteRow, error) {
	const query = `
		SELECT incident_id, note_text, created_at
		FROM work_notes
		ORDER BY incident_id, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query GetWorkNotes: %w", err)
	}
	defer rows.Close()

	results := make(map[string][]models.WorkNoteRow)
	for rows.Next() {
		var n models.WorkNoteRow
		var text, created sql.NullString
		if err := rows.Scan(&n.IncidentID, &text, &created); err != nil {
			return nil, fmt.Errorf("scan GetWorkNotes row: %w", err)
		}
		n.NoteText, n.CreatedAt = text.String, created.String
		results[n.IncidentID] = append(results[n.IncidentID], n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate GetWorkNotes: %w", err)
	}
	return results, nil
}

func (r *IncidentRepository) GetAttachmentCounts(ctx context.Context) (map[string]int, error) {
	const query = `
		SELECT incident_id, COUNT(*) FROM attachments GROUP BY incident_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query GetAttachmentCounts: %w", err)
	}
	defer rows.Close()

	results := make(map[string]int)
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("scan GetAttachmentCounts row: %w", err)
		}
		results[id] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate GetAttachmentCounts: %w", err)
	}
	return results, nil
}
