package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/shared"
)

const outcomeColumns = `
	id, run_id, username, outcome, items_applied, items_gated,
	items_missing, items_failed, message, created_at, updated_at
`

// UserOutcomeRepository implements models.Repository[*models.UserOutcome].
//
// Outcomes belong to a run and are removed with it; Delete is a hard delete.
type UserOutcomeRepository struct {
	db *sql.DB
}

// NewUserOutcomeRepository creates a new UserOutcomeRepository with the given database connection
func NewUserOutcomeRepository(db *sql.DB) *UserOutcomeRepository {
	return &UserOutcomeRepository{db: db}
}

// Create inserts an outcome with a generated ID
func (r *UserOutcomeRepository) Create(o *models.UserOutcome) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	id := shared.GenerateID()
	counts := o.Counts()

	query := `
		INSERT INTO user_outcomes (` + outcomeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query,
		id,
		o.RunID(),
		o.Username(),
		o.Outcome().String(),
		counts.Applied,
		counts.Gated,
		counts.Missing,
		counts.Failed,
		nullString(o.Message()),
		o.CreatedAt(),
		o.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome for %s: %w", o.Username(), err)
	}

	o.SetID(id)
	return nil
}

// Get retrieves an outcome by ID
func (r *UserOutcomeRepository) Get(id string) (*models.UserOutcome, error) {
	query := `SELECT ` + outcomeColumns + ` FROM user_outcomes WHERE id = ?`

	o, err := scanOutcome(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("outcome %s: %w", id, shared.ErrNotFound)
	}
	return o, err
}

// Update rewrites the outcome's result and message
func (r *UserOutcomeRepository) Update(o *models.UserOutcome) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	o.SetUpdatedAt(now)
	counts := o.Counts()

	query := `
		UPDATE user_outcomes
		SET outcome = ?, items_applied = ?, items_gated = ?, items_missing = ?,
			items_failed = ?, message = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		o.Outcome().String(),
		counts.Applied,
		counts.Gated,
		counts.Missing,
		counts.Failed,
		nullString(o.Message()),
		now,
		o.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update outcome: %w", err)
	}
	return expectOne(result, "outcome", o.ID())
}

// Delete removes an outcome by ID
func (r *UserOutcomeRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM user_outcomes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete outcome: %w", err)
	}
	return expectOne(result, "outcome", id)
}

// List retrieves outcomes ordered by username.
//
// Supported criteria are "run_id" and "outcome" (a [models.Outcome] or its string form).
func (r *UserOutcomeRepository) List(criteria map[string]any) ([]*models.UserOutcome, error) {
	query := `SELECT ` + outcomeColumns + ` FROM user_outcomes WHERE 1 = 1`
	args := []any{}

	if runID, ok := criteria["run_id"].(string); ok && runID != "" {
		query += " AND run_id = ?"
		args = append(args, runID)
	}

	switch outcome := criteria["outcome"].(type) {
	case models.Outcome:
		query += " AND outcome = ?"
		args = append(args, outcome.String())
	case string:
		if outcome != "" {
			query += " AND outcome = ?"
			args = append(args, outcome)
		}
	}

	query += " ORDER BY run_id, username COLLATE NOCASE"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*models.UserOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return outcomes, nil
}

func scanOutcome(row scanner) (*models.UserOutcome, error) {
	var (
		id        string
		runID     string
		username  string
		outcome   string
		counts    models.ItemCounts
		message   sql.NullString
		createdAt time.Time
		updatedAt time.Time
	)

	err := row.Scan(
		&id, &runID, &username, &outcome,
		&counts.Applied, &counts.Gated, &counts.Missing, &counts.Failed,
		&message, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan outcome: %w", err)
	}

	parsed, err := models.ParseOutcome(outcome)
	if err != nil {
		return nil, fmt.Errorf("outcome %s: %w", id, err)
	}

	o := models.NewUserOutcome(runID, username, parsed, counts, message.String)
	o.SetID(id)
	o.SetCreatedAt(createdAt)
	o.SetUpdatedAt(updatedAt)
	return o, nil
}
