package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/pesio-ai/be-procurement-letters/pkg/database"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
)

// DirectoryRepository reads users, units and roles. Those tables are owned by
// the identity service; this service only queries them.
type DirectoryRepository struct {
	db *database.DB
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// GetUnitByCode looks a unit up by its code.
func (r *DirectoryRepository) GetUnitByCode(ctx context.Context, code string) (*Unit, error) {
	u := &Unit{}
	err := r.db.Querier(ctx).QueryRow(ctx, `SELECT id, code, name FROM units WHERE code = $1`, code).
		Scan(&u.ID, &u.Code, &u.Name)
	if database.IsNoRows(err) {
		return nil, errors.NotFound("unit", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get unit")
	}
	return u, nil
}

// GetUnit looks a unit up by ID.
func (r *DirectoryRepository) GetUnit(ctx context.Context, id UnitID) (*Unit, error) {
	if !IsUUID(string(id)) {
		return nil, errors.NotFound("unit", string(id))
	}
	u := &Unit{}
	err := r.db.Querier(ctx).QueryRow(ctx, `SELECT id, code, name FROM units WHERE id = $1`, id).
		Scan(&u.ID, &u.Code, &u.Name)
	if database.IsNoRows(err) {
		return nil, errors.NotFound("unit", string(id))
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get unit")
	}
	return u, nil
}

// FindActiveUsers returns active users holding roleID in unitID.
func (r *DirectoryRepository) FindActiveUsers(ctx context.Context, roleID RoleID, unitID UnitID) ([]*User, error) {
	if !IsUUID(string(roleID)) || !IsUUID(string(unitID)) {
		return nil, nil
	}
	query := `
		SELECT id, name, email, role_id, unit_id, is_active
		FROM users
		WHERE role_id = $1 AND unit_id = $2 AND is_active
		ORDER BY name ASC
		LIMIT 10
	`

	rows, err := r.db.Querier(ctx).Query(ctx, query, roleID, unitID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to query users by role")
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.RoleID, &u.UnitID, &u.IsActive); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUser retrieves one user.
func (r *DirectoryRepository) GetUser(ctx context.Context, id UserID) (*User, error) {
	u := &User{}
	err := r.db.QueryRow(ctx, `SELECT id, name, email, role_id, unit_id, is_active FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.RoleID, &u.UnitID, &u.IsActive)
	if database.IsNoRows(err) {
		return nil, errors.NotFound("user", string(id))
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// RoleIDsByCode maps role codes to IDs. Every code must exist.
func (r *DirectoryRepository) RoleIDsByCode(ctx context.Context, codes []string) (map[string]RoleID, error) {
	rows, err := r.db.Query(ctx, `SELECT code, id FROM roles WHERE code = ANY($1)`, codes)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to query roles")
	}
	defer rows.Close()

	out := make(map[string]RoleID, len(codes))
	for rows.Next() {
		var code string
		var id RoleID
		if err := rows.Scan(&code, &id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan role")
		}
		out[code] = id
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read roles")
	}
	return out, MissingCodes(codes, out)
}

// MissingCodes returns a configuration error naming codes absent from found.
func MissingCodes(codes []string, found map[string]RoleID) error {
	var missing []string
	for _, c := range codes {
		if _, ok := found[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return errors.Configuration(fmt.Sprintf("unknown role codes: %s", strings.Join(missing, ", ")))
	}
	return nil
}

// UpsertRole inserts or renames a role by code. Used by seeding.
func (r *DirectoryRepository) UpsertRole(ctx context.Context, role *Role) error {
	query := `
		INSERT INTO roles (code, name) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`
	return database.Classify(r.db.QueryRow(ctx, query, role.Code, role.Name).Scan(&role.ID), "failed to upsert role")
}

// UpsertUnit inserts or renames a unit by code. Used by seeding.
func (r *DirectoryRepository) UpsertUnit(ctx context.Context, unit *Unit) error {
	query := `
		INSERT INTO units (code, name) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`
	return database.Classify(r.db.QueryRow(ctx, query, unit.Code, unit.Name).Scan(&unit.ID), "failed to upsert unit")
}
