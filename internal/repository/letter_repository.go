package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procurement-letters/pkg/database"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
)

// LetterRepository persists procurement letters. Every write goes through a
// transaction that also appends the matching log entry.
type LetterRepository struct {
	db   *database.DB
	logs *LetterLogRepository
}

// NewLetterRepository creates a new LetterRepository.
func NewLetterRepository(db *database.DB, logs *LetterLogRepository) *LetterRepository {
	return &LetterRepository{db: db, logs: logs}
}

const letterColumns = `
	id, letter_number, subject, incoming_date, attachment_path, amount,
	status, unit_id, created_by, current_approver_id, version,
	created_at, updated_at`

// Create inserts a letter together with its first log entry.
func (r *LetterRepository) Create(ctx context.Context, letter *Letter, entry *LogEntry) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO procurement_letters
			    (letter_number, subject, incoming_date, attachment_path, amount,
			     status, unit_id, created_by, current_approver_id)
			VALUES ($1, $2, $3, $4, $5,
			        $6::letter_status, $7, $8, $9)
			RETURNING id, version, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			letter.LetterNumber,
			letter.Subject,
			letter.IncomingDate,
			letter.AttachmentPath,
			letter.Amount,
			string(letter.Status),
			string(letter.UnitID),
			string(letter.CreatedBy),
			userIDArg(letter.CurrentApprover),
		).Scan(&letter.ID, &letter.Version, &letter.CreatedAt, &letter.UpdatedAt)
		if err != nil {
			return database.Classify(err, "failed to create letter")
		}

		entry.LetterID = letter.ID
		return r.logs.Append(ctx, tx, entry)
	})
}

// GetByID retrieves a letter.
func (r *LetterRepository) GetByID(ctx context.Context, id LetterID) (*Letter, error) {
	if !IsUUID(string(id)) {
		return nil, errors.NotFound("letter", string(id))
	}
	query := `SELECT ` + letterColumns + ` FROM procurement_letters WHERE id = $1`

	letter, err := scanLetter(r.db.Querier(ctx).QueryRow(ctx, query, string(id)))
	if database.IsNoRows(err) {
		return nil, errors.NotFound("letter", string(id))
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get letter")
	}
	return letter, nil
}

// History returns the letter's log entries oldest-first.
func (r *LetterRepository) History(ctx context.Context, id LetterID) ([]*LogEntry, error) {
	return r.logs.History(ctx, id)
}

// Transition locks the letter row, hands a copy to fn and, if fn succeeds,
// writes the mutated letter and fn's log entry in the same transaction. The
// update is guarded by the version read under the lock, so a lost update
// surfaces as CONFLICT rather than being silently applied. Any error from fn
// or from either write rolls the whole transition back.
//
// The context given to fn carries the transaction: repository reads made with
// it share the locked connection instead of waiting on the pool.
func (r *LetterRepository) Transition(ctx context.Context, id LetterID, fn func(context.Context, *Letter) (*LogEntry, error)) (*Letter, error) {
	if !IsUUID(string(id)) {
		return nil, errors.NotFound("letter", string(id))
	}

	var out *Letter
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + letterColumns + ` FROM procurement_letters WHERE id = $1 FOR UPDATE`
		current, err := scanLetter(tx.QueryRow(ctx, query, string(id)))
		if database.IsNoRows(err) {
			return errors.NotFound("letter", string(id))
		}
		if err != nil {
			return database.Classify(err, "failed to lock letter")
		}

		next := *current
		entry, err := fn(database.WithTx(ctx, tx), &next)
		if err != nil {
			return err
		}

		update := `
			UPDATE procurement_letters
			SET letter_number       = $3,
			    subject             = $4,
			    incoming_date       = $5,
			    attachment_path     = $6,
			    amount              = $7,
			    status              = $8::letter_status,
			    current_approver_id = $9,
			    version             = version + 1,
			    updated_at          = NOW()
			WHERE id = $1 AND version = $2
			RETURNING version, updated_at
		`
		err = tx.QueryRow(ctx, update,
			string(current.ID),
			current.Version,
			next.LetterNumber,
			next.Subject,
			next.IncomingDate,
			next.AttachmentPath,
			next.Amount,
			string(next.Status),
			userIDArg(next.CurrentApprover),
		).Scan(&next.Version, &next.UpdatedAt)
		if database.IsNoRows(err) {
			return errors.New(errors.ErrCodeConflict, "letter was modified concurrently")
		}
		if err != nil {
			return database.Classify(err, "failed to update letter")
		}

		entry.LetterID = current.ID
		if err := r.logs.Append(ctx, tx, entry); err != nil {
			return err
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListInbox returns the letters currently assigned to the user: pending
// decisions plus their own letters awaiting revision.
func (r *LetterRepository) ListInbox(ctx context.Context, filter InboxFilter) ([]*Letter, int64, error) {
	if !IsUUID(string(filter.UserID)) {
		return nil, 0, nil
	}
	where := ` WHERE current_approver_id = $1`
	args := []any{string(filter.UserID)}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		match := fmt.Sprintf("letter_number ILIKE $%d OR subject ILIKE $%d", len(args), len(args))
		if amount, ok := filter.SearchAmount(); ok {
			args = append(args, amount)
			match += fmt.Sprintf(" OR amount = $%d", len(args))
		}
		where += " AND (" + match + ")"
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM procurement_letters`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count inbox")
	}

	query := `SELECT ` + letterColumns + ` FROM procurement_letters` + where +
		fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := r.db.Query(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list inbox")
	}
	defer rows.Close()

	var letters []*Letter
	for rows.Next() {
		letter, err := scanLetter(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan letter")
		}
		letters = append(letters, letter)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to read inbox")
	}
	return letters, total, nil
}

// ListByActor returns the log entries the user produced.
func (r *LetterRepository) ListByActor(ctx context.Context, userID UserID, limit, offset int) ([]*LogEntry, int64, error) {
	return r.logs.ListByActor(ctx, userID, limit, offset)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type letterScanner interface {
	Scan(dest ...any) error
}

func scanLetter(sc letterScanner) (*Letter, error) {
	l := &Letter{}
	var approver *string
	err := sc.Scan(
		&l.ID,
		&l.LetterNumber,
		&l.Subject,
		&l.IncomingDate,
		&l.AttachmentPath,
		&l.Amount,
		&l.Status,
		&l.UnitID,
		&l.CreatedBy,
		&approver,
		&l.Version,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if approver != nil {
		id := UserID(*approver)
		l.CurrentApprover = &id
	}
	return l, nil
}

func userIDArg(id *UserID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}
