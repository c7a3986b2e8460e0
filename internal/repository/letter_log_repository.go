package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procurement-letters/pkg/database"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
)

// LetterLogRepository appends and reads procurement_logs. The table has an
// update/delete-prevention trigger so Append is the only mutation exposed.
type LetterLogRepository struct {
	db *database.DB
}

// NewLetterLogRepository creates a new LetterLogRepository.
func NewLetterLogRepository(db *database.DB) *LetterLogRepository {
	return &LetterLogRepository{db: db}
}

const logColumns = `id, seq, letter_id, actor_id, action, comment, status_before, status_after, created_at`

// Append inserts one entry using q, which is normally the transaction that
// also wrote the letter.
func (r *LetterLogRepository) Append(ctx context.Context, q database.Querier, entry *LogEntry) error {
	query := `
		INSERT INTO procurement_logs
		    (letter_id, actor_id, action, comment, status_before, status_after)
		VALUES ($1, $2, $3::letter_log_action, $4, $5::letter_status, $6::letter_status)
		RETURNING id, seq, created_at
	`

	var before *string
	if entry.StatusBefore != nil {
		s := string(*entry.StatusBefore)
		before = &s
	}

	err := q.QueryRow(ctx, query,
		string(entry.LetterID),
		string(entry.ActorID),
		string(entry.Action),
		entry.Comment,
		before,
		string(entry.StatusAfter),
	).Scan(&entry.ID, &entry.Seq, &entry.CreatedAt)
	return database.Classify(err, "failed to append letter log")
}

// History returns a letter's trail oldest-first. seq breaks created_at ties.
func (r *LetterLogRepository) History(ctx context.Context, letterID LetterID) ([]*LogEntry, error) {
	if !IsUUID(string(letterID)) {
		return nil, nil
	}
	query := `
		SELECT ` + logColumns + `
		FROM procurement_logs
		WHERE letter_id = $1
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := r.db.Query(ctx, query, string(letterID))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get letter history")
	}
	defer rows.Close()

	return scanLogRows(rows)
}

// ListByActor returns the entries an actor produced, newest first.
func (r *LetterLogRepository) ListByActor(ctx context.Context, actorID UserID, limit, offset int) ([]*LogEntry, int64, error) {
	if !IsUUID(string(actorID)) {
		return nil, 0, nil
	}
	var total int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM procurement_logs WHERE actor_id = $1`, string(actorID)).Scan(&total)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count activity")
	}

	query := `
		SELECT ` + logColumns + `
		FROM procurement_logs
		WHERE actor_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, string(actorID), limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list activity")
	}
	defer rows.Close()

	entries, err := scanLogRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanLogRows(rows pgx.Rows) ([]*LogEntry, error) {
	var entries []*LogEntry
	for rows.Next() {
		entry := &LogEntry{}
		var before *string
		err := rows.Scan(
			&entry.ID,
			&entry.Seq,
			&entry.LetterID,
			&entry.ActorID,
			&entry.Action,
			&entry.Comment,
			&before,
			&entry.StatusAfter,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan letter log")
		}
		if before != nil {
			s := Status(*before)
			entry.StatusBefore = &s
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read letter logs")
	}
	return entries, nil
}
