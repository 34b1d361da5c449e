package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"finpulse.org/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrCheckViolation      = "23514"
)

var _ auth.Store = (*Store)(nil)

// Store implements auth.Store on PostgreSQL. Uniqueness of emails and
// ledger tenant ids and the users-to-organizations foreign key live in the
// schema; this layer maps the driver's rejections onto the auth
// sentinels.
type Store struct {
	db *sql.DB
}

// Open connects with pool settings tuned for a small API tier.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection (used by tests).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Organization queries never select ledger_api_key: the credential is
// write-only after initial set.
const orgColumns = `id, name, ledger_tenant_id, last_sync_at, created_at, updated_at`

func (s *Store) CreateOrganization(ctx context.Context, org *auth.Organization) error {
	_, err := s.db.ExecContext(ctx, `
		insert into organizations (id, name, ledger_tenant_id, ledger_api_key, created_at, updated_at)
		values ($1, $2, nullif($3,''), nullif($4,''), $5, $6)
	`, org.ID, org.Name, org.LedgerTenantID, org.LedgerAPIKey, org.CreatedAt, org.UpdatedAt)
	return mapPgError(err)
}

func (s *Store) FindOrganization(ctx context.Context, id string) (*auth.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+orgColumns+` from organizations where id = $1`, id)
	return scanOrganization(row)
}

func (s *Store) UpdateOrganization(ctx context.Context, id string, upd auth.OrganizationUpdate) (*auth.Organization, error) {
	sets := []string{"updated_at = now()"}
	args := []any{}
	n := 1
	add := func(clause string, value any) {
		sets = append(sets, fmt.Sprintf(clause, n))
		args = append(args, value)
		n++
	}
	if upd.Name != nil {
		add("name = $%d", *upd.Name)
	}
	if upd.LedgerTenantID != nil {
		add("ledger_tenant_id = nullif($%d,'')", *upd.LedgerTenantID)
	}
	if upd.LedgerAPIKey != nil {
		add("ledger_api_key = nullif($%d,'')", *upd.LedgerAPIKey)
	}
	if upd.LastSyncAt != nil {
		add("last_sync_at = $%d", *upd.LastSyncAt)
	}
	args = append(args, id)
	query := fmt.Sprintf(`update organizations set %s where id = $%d returning `+orgColumns,
		strings.Join(sets, ", "), n)
	return scanOrganization(s.db.QueryRowContext(ctx, query, args...))
}

const userColumns = `id, organization_id, email, role, active, password_hash, last_login_at, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, organization_id, email, role, active, password_hash, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.OrganizationID, u.Email, string(u.Role), u.Active, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return mapPgError(err)
}

func (s *Store) FindUser(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email = $1`, email)
	return scanUser(row)
}

func (s *Store) ListUsersByOrg(ctx context.Context, orgID string) ([]*auth.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where organization_id = $1 order by created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	sets := []string{"updated_at = now()"}
	args := []any{}
	n := 1
	add := func(clause string, value any) {
		sets = append(sets, fmt.Sprintf(clause, n))
		args = append(args, value)
		n++
	}
	if upd.Role != nil {
		add("role = $%d", string(*upd.Role))
	}
	if upd.Active != nil {
		add("active = $%d", *upd.Active)
	}
	if upd.LastLoginAt != nil {
		add("last_login_at = $%d", *upd.LastLoginAt)
	}
	args = append(args, id)
	query := fmt.Sprintf(`update users set %s where id = $%d returning `+userColumns,
		strings.Join(sets, ", "), n)
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapPgError(err)
	}
	return u, nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at, created_at, revoked)
		values ($1, $2, $3, $4, $5, $6)
	`, tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt, tok.Revoked)
	return mapPgError(err)
}

func (s *Store) FindRefreshToken(ctx context.Context, id string) (*auth.RefreshToken, error) {
	var tok auth.RefreshToken
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at, revoked
		from refresh_tokens where id = $1
	`, id).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// RotateRefreshToken relies on the conditional update as the
// compare-and-swap: the guarded UPDATE revokes the old row only while
// the stored hash still matches and the row is live, so of two
// concurrent rotations exactly one sees rows-affected = 1.
func (s *Store) RotateRefreshToken(ctx context.Context, id, expectedHash string, next *auth.RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update refresh_tokens set revoked = true
		where id = $1 and token_hash = $2 and not revoked
	`, id, expectedHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrInvalidToken
	}
	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at, created_at, revoked)
		values ($1, $2, $3, $4, $5, false)
	`, next.ID, next.UserID, next.TokenHash, next.ExpiresAt, next.CreatedAt); err != nil {
		return mapPgError(err)
	}
	return tx.Commit()
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked = true where id = $1`, id)
	return err
}

func (s *Store) RevokeRefreshTokensByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked = true where user_id = $1 and not revoked`, userID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (*auth.Organization, error) {
	var (
		org      auth.Organization
		tenantID sql.NullString
		lastSync sql.NullTime
	)
	err := row.Scan(&org.ID, &org.Name, &tenantID, &lastSync, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if tenantID.Valid {
		org.LedgerTenantID = tenantID.String
	}
	if lastSync.Valid {
		t := lastSync.Time
		org.LastSyncAt = &t
	}
	return &org, nil
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u         auth.User
		role      string
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &role, &u.Active, &u.PasswordHash, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation, pgErrCheckViolation:
			return fmt.Errorf("%w: %s", auth.ErrInvalidInput, pgErr.ConstraintName)
		}
	}
	return err
}
