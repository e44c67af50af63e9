package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-bi/backoffice/internal/platform/db"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

// Repository persists roles, permissions and their association in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `r.id, r.name, r.description, r.permissions_version,
	(SELECT COUNT(*) FROM users u WHERE u.role_id = r.id AND u.discarded_at IS NULL),
	r.created_at, r.updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	var createdAt, updatedAt pgtype.Timestamptz
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Version, &r.UsersCount, &createdAt, &updatedAt); err != nil {
		return Role{}, err
	}
	r.CreatedAt = createdAt.Time
	r.UpdatedAt = updatedAt.Time
	return r, nil
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r ORDER BY r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id))
	if db.IsNoRows(err) {
		return Role{}, shared.ErrNotFound
	}
	return role, err
}

// CreateRole inserts a role with version 1.
func (r *Repository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO roles (name, description, permissions_version, created_at, updated_at)
		VALUES ($1, $2, 1, NOW(), NOW()) RETURNING id`, name, description).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Role{}, shared.NewValidationError("name", "has already been taken")
		}
		return Role{}, err
	}
	return r.GetRole(ctx, id)
}

// UpdateRole changes a role's name and description. The permission version is untouched.
func (r *Repository) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET name = $2, description = $3, updated_at = NOW() WHERE id = $1`, id, name, description)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Role{}, shared.NewValidationError("name", "has already been taken")
		}
		return Role{}, err
	}
	if tag.RowsAffected() == 0 {
		return Role{}, shared.ErrNotFound
	}
	return r.GetRole(ctx, id)
}

// DeleteRole removes a role that no user references.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	return db.WithTxIso(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		var locked int64
		if err := tx.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
			if db.IsNoRows(err) {
				return shared.ErrNotFound
			}
			return err
		}
		var refs int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role_id = $1`, id).Scan(&refs); err != nil {
			return err
		}
		if refs > 0 {
			return fmt.Errorf("rbac: role %d referenced by %d users: %w", id, refs, shared.ErrHasActiveChildren)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
			if db.IsForeignKeyViolation(err) {
				return fmt.Errorf("rbac: role %d: %w", id, shared.ErrHasActiveChildren)
			}
			return err
		}
		return nil
	})
}

// RolePermissionIDs lists the kept permission ids attached to a role.
func (r *Repository) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT rp.permission_id FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id AND p.discarded_at IS NULL
		WHERE rp.role_id = $1 ORDER BY rp.permission_id`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// SetRolePermissions replaces the role's permission set and bumps its version when the
// set changed. Returns the role as of the end of the transaction.
func (r *Repository) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (Role, bool, error) {
	changed := false
	err := db.WithTxIso(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		var locked int64
		if err := tx.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&locked); err != nil {
			if db.IsNoRows(err) {
				return shared.ErrNotFound
			}
			return err
		}
		rows, err := tx.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1`, roleID)
		if err != nil {
			return err
		}
		current, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return err
		}
		existing := make(map[int64]struct{}, len(current))
		for _, id := range current {
			existing[id] = struct{}{}
		}
		keep := make(map[int64]struct{}, len(permissionIDs))
		for _, id := range permissionIDs {
			keep[id] = struct{}{}
			if _, ok := existing[id]; ok {
				continue
			}
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id, created_at) VALUES ($1, $2, NOW())`, roleID, id); err != nil {
				if db.IsForeignKeyViolation(err) {
					return shared.NewValidationError("permission_ids", fmt.Sprintf("unknown permission %d", id))
				}
				return err
			}
			changed = true
		}
		for id := range existing {
			if _, ok := keep[id]; ok {
				continue
			}
			if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, id); err != nil {
				return err
			}
			changed = true
		}
		if changed {
			_, err = tx.Exec(ctx, `UPDATE roles SET permissions_version = permissions_version + 1, updated_at = NOW() WHERE id = $1`, roleID)
		}
		return err
	})
	if err != nil {
		return Role{}, false, err
	}
	role, err := r.GetRole(ctx, roleID)
	return role, changed, err
}

const permissionColumns = `id, code, name, resource, section, discarded_at, created_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	var discardedAt, createdAt pgtype.Timestamptz
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Resource, &p.Section, &discardedAt, &createdAt); err != nil {
		return Permission{}, err
	}
	if discardedAt.Valid {
		t := discardedAt.Time
		p.DiscardedAt = &t
	}
	p.CreatedAt = createdAt.Time
	return p, nil
}

// ListPermissions returns kept permissions ordered by section then code.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE discarded_at IS NULL ORDER BY section, code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetPermission fetches a kept permission.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	p, err := scanPermission(r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1 AND discarded_at IS NULL`, id))
	if db.IsNoRows(err) {
		return Permission{}, shared.ErrNotFound
	}
	return p, err
}

// EnsurePermission upserts a permission by code, restoring it when it had been discarded.
func (r *Repository) EnsurePermission(ctx context.Context, p Permission) (Permission, error) {
	return scanPermission(r.pool.QueryRow(ctx, `INSERT INTO permissions (code, name, resource, section, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, resource = EXCLUDED.resource,
			section = EXCLUDED.section, discarded_at = NULL
		RETURNING `+permissionColumns, p.Code, p.Name, p.Resource, p.Section))
}

// DiscardPermission detaches a permission from every role, bumps those roles' versions
// and soft-deletes it. Returns the affected role ids with their new versions.
func (r *Repository) DiscardPermission(ctx context.Context, id int64) (map[int64]int64, error) {
	bumped := make(map[int64]int64)
	err := db.WithTxIso(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE permissions SET discarded_at = $2 WHERE id = $1 AND discarded_at IS NULL`, id, time.Now().UTC())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		rows, err := tx.Query(ctx, `WITH detached AS (
				DELETE FROM role_permissions WHERE permission_id = $1 RETURNING role_id
			)
			UPDATE roles SET permissions_version = permissions_version + 1, updated_at = NOW()
			WHERE id IN (SELECT role_id FROM detached)
			RETURNING id, permissions_version`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var roleID, version int64
			if err := rows.Scan(&roleID, &version); err != nil {
				return err
			}
			bumped[roleID] = version
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return bumped, nil
}

// RoleGrant implements GrantSource by reading the role's kept codes and current version
// in one statement.
func (r *Repository) RoleGrant(ctx context.Context, roleID, _ int64) (RoleGrant, error) {
	grant := RoleGrant{RoleID: roleID}
	var codes []string
	err := r.pool.QueryRow(ctx, `SELECT r.permissions_version,
			COALESCE(array_agg(p.code ORDER BY p.code) FILTER (WHERE p.code IS NOT NULL), '{}')
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id AND p.discarded_at IS NULL
		WHERE r.id = $1
		GROUP BY r.id`, roleID).Scan(&grant.Version, &codes)
	if err != nil {
		if db.IsNoRows(err) {
			return RoleGrant{}, shared.ErrNotFound
		}
		return RoleGrant{}, err
	}
	grant.Codes = codes
	return grant, nil
}

// LoadActor reads an active, kept user with its role version and company status.
func (r *Repository) LoadActor(ctx context.Context, userID int64) (Actor, error) {
	var (
		a         Actor
		roleID    pgtype.Int8
		roleName  pgtype.Text
		version   pgtype.Int8
		companyID pgtype.Int8
		active    pgtype.Bool
	)
	err := r.pool.QueryRow(ctx, `SELECT u.id, u.name, u.email, u.role_id, r.name, r.permissions_version, u.company_id,
			c.status = 'active' AND c.discarded_at IS NULL
		FROM users u
		LEFT JOIN roles r ON r.id = u.role_id
		LEFT JOIN companies c ON c.id = u.company_id
		WHERE u.id = $1 AND u.discarded_at IS NULL AND u.is_active`, userID).
		Scan(&a.ID, &a.Name, &a.Email, &roleID, &roleName, &version, &companyID, &active)
	if err != nil {
		if db.IsNoRows(err) {
			return Actor{}, shared.ErrNotFound
		}
		return Actor{}, err
	}
	if roleID.Valid {
		id := roleID.Int64
		a.RoleID = &id
		a.RoleName = strings.TrimSpace(roleName.String)
		a.RoleVersion = version.Int64
	}
	if companyID.Valid {
		id := companyID.Int64
		a.CompanyID = &id
		a.CompanyActive = active.Valid && active.Bool
	}
	return a, nil
}
