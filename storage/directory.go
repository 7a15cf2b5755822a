package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fiterafrica/fineract-template/domain"
)

// Directory reads tenants, users and permission settings.
type Directory struct {
	db *DB
}

func NewDirectory(db *DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) TenantByID(ctx context.Context, id string) (domain.Tenant, error) {
	sb := d.db.Flavor().NewSelectBuilder()
	sb.Select("id", "name", "maker_checker_enabled", "max_retries_on_deadlock", "max_interval_between_retries").
		From("m_tenant").
		Where(sb.Equal("id", id))
	query, args := sb.Build()
	var t domain.Tenant
	if err := d.db.GetContext(ctx, &t, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Tenant{}, &domain.NotFoundError{Resource: "tenant", ID: id}
		}
		return domain.Tenant{}, err
	}
	return t, nil
}

type userRow struct {
	ID       int64  `db:"id"`
	Username string `db:"username"`
	OfficeID int64  `db:"office_id"`
}

// UserByUsername loads the user with its effective permissions.
func (d *Directory) UserByUsername(ctx context.Context, tenantID, username string) (domain.User, error) {
	sb := d.db.Flavor().NewSelectBuilder()
	sb.Select("id", "username", "office_id").
		From("m_appuser").
		Where(sb.Equal("tenant_id", tenantID), sb.Equal("username", username))
	query, args := sb.Build()
	var row userRow
	if err := d.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, &domain.NotFoundError{Resource: "user", ID: username}
		}
		return domain.User{}, err
	}

	pb := d.db.Flavor().NewSelectBuilder()
	pb.Select("code").
		From("m_appuser_permission").
		Where(pb.Equal("tenant_id", tenantID), pb.Equal("user_id", row.ID)).
		OrderBy("code")
	query, args = pb.Build()
	permissions := []string{}
	if err := d.db.SelectContext(ctx, &permissions, query, args...); err != nil {
		return domain.User{}, fmt.Errorf("load permissions of %s: %w", username, err)
	}
	return domain.User{ID: row.ID, Username: row.Username, OfficeID: row.OfficeID, Permissions: permissions}, nil
}

// RequiresMakerChecker is true when the tenant has maker-checker switched on
// and the permission is configured for it. Unknown permissions are not
// gated.
func (d *Directory) RequiresMakerChecker(ctx context.Context, tenant domain.Tenant, permissionCode string) (bool, error) {
	if !tenant.MakerCheckerEnabled {
		return false, nil
	}
	sb := d.db.Flavor().NewSelectBuilder()
	sb.Select("can_maker_checker").
		From("m_permission").
		Where(sb.Equal("tenant_id", tenant.ID), sb.Equal("code", permissionCode))
	query, args := sb.Build()
	var enabled bool
	if err := d.db.GetContext(ctx, &enabled, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return enabled, nil
}

// PermissionSetting is one row of the maker-checker configuration.
type PermissionSetting struct {
	Code            string `db:"code" json:"code"`
	CanMakerChecker bool   `db:"can_maker_checker" json:"selected"`
}

// SetMakerChecker switches maker-checker on or off for a permission.
func (d *Directory) SetMakerChecker(ctx context.Context, tenantID string, s PermissionSetting) error {
	ib := d.db.Flavor().NewInsertBuilder()
	ib.InsertInto("m_permission").Cols("tenant_id", "code", "can_maker_checker").Values(tenantID, s.Code, s.CanMakerChecker)
	ib.SQL("ON CONFLICT (tenant_id, code) DO UPDATE SET can_maker_checker = EXCLUDED.can_maker_checker")
	query, args := ib.Build()
	_, err := d.db.ExecContext(ctx, query, args...)
	return classify(err)
}

// MakerCheckerSettings lists the maker-checker configuration of a tenant.
func (d *Directory) MakerCheckerSettings(ctx context.Context, tenantID string) ([]PermissionSetting, error) {
	sb := d.db.Flavor().NewSelectBuilder()
	sb.Select("code", "can_maker_checker").
		From("m_permission").
		Where(sb.Equal("tenant_id", tenantID)).
		OrderBy("code")
	query, args := sb.Build()
	settings := []PermissionSetting{}
	if err := d.db.SelectContext(ctx, &settings, query, args...); err != nil {
		return nil, err
	}
	return settings, nil
}

// SaveTenant creates or replaces a tenant and its retry settings.
func (d *Directory) SaveTenant(ctx context.Context, t domain.Tenant) error {
	ib := d.db.Flavor().NewInsertBuilder()
	ib.InsertInto("m_tenant").
		Cols("id", "name", "maker_checker_enabled", "max_retries_on_deadlock", "max_interval_between_retries").
		Values(t.ID, t.Name, t.MakerCheckerEnabled, t.MaxRetries, t.MaxIntervalSeconds)
	ib.SQL("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, maker_checker_enabled = EXCLUDED.maker_checker_enabled, " +
		"max_retries_on_deadlock = EXCLUDED.max_retries_on_deadlock, max_interval_between_retries = EXCLUDED.max_interval_between_retries")
	query, args := ib.Build()
	_, err := d.db.ExecContext(ctx, query, args...)
	return classify(err)
}

// SaveUser creates or replaces a user and replaces its permissions.
func (d *Directory) SaveUser(ctx context.Context, tenantID string, u domain.User) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ib := d.db.Flavor().NewInsertBuilder()
	ib.InsertInto("m_appuser").Cols("tenant_id", "id", "username", "office_id").Values(tenantID, u.ID, u.Username, u.OfficeID)
	ib.SQL("ON CONFLICT (tenant_id, id) DO UPDATE SET username = EXCLUDED.username, office_id = EXCLUDED.office_id")
	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return classify(err)
	}

	del := d.db.Flavor().NewDeleteBuilder()
	del.DeleteFrom("m_appuser_permission").Where(del.Equal("tenant_id", tenantID), del.Equal("user_id", u.ID))
	query, args = del.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return classify(err)
	}

	if len(u.Permissions) > 0 {
		pb := d.db.Flavor().NewInsertBuilder()
		pb.InsertInto("m_appuser_permission").Cols("tenant_id", "user_id", "code")
		for _, code := range u.Permissions {
			pb.Values(tenantID, u.ID, code)
		}
		query, args = pb.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return classify(err)
		}
	}
	return tx.Commit()
}
