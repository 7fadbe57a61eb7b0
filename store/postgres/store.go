// Package postgres is a PostgreSQL authcore.UserStore over database/sql
// with the pgx driver. Schema changes are applied with goose from embedded
// migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/store/postgres/migrations"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const uniqueViolation = "23505"

const userColumns = `id, first_name, last_name, email, password_hash, failed_login_attempts, is_locked, lock_until,
 last_login_at, last_login_ip, login_count, reset_token_hash, reset_expiry, refresh_token_hash,
 linked_providers, last_provider, email_verified, email_verified_at, two_factor_enabled, two_factor_secret,
 created_at, updated_at, version`

const identityColumns = `provider, external_id, username, profile_url, access_token, refresh_token,
 token_expiry, scopes, consented_at`

// Store implements authcore.UserStore.
type Store struct {
	db *sql.DB
}

// New returns a Store over db. Run [Migrate] first.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ authcore.UserStore = (*Store)(nil)

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

func (s *Store) GetByID(ctx context.Context, id string) (*authcore.User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*authcore.User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = lower($1)`, strings.TrimSpace(email))
}

func (s *Store) GetByProvider(ctx context.Context, provider authcore.ProviderID, externalID string) (*authcore.User, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM user_identities WHERE provider = $1 AND external_id = $2`,
		string(provider), externalID).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authcore.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s.GetByID(ctx, userID)
}

func (s *Store) GetByResetTokenHash(ctx context.Context, hash string) (*authcore.User, error) {
	if hash == "" {
		return nil, authcore.ErrUserNotFound
	}
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE reset_token_hash = $1`, hash)
}

// Create inserts u and its identities in one transaction and sets Version to 1.
func (s *Store) Create(ctx context.Context, u *authcore.User) error {
	u.Email = strings.ToLower(u.Email)

	err := withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (`+userColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, 1)`,
			userArgs(u)...)
		if err != nil {
			return err
		}
		return insertIdentities(ctx, tx, u)
	})
	if err != nil {
		return mapWriteError(err)
	}
	u.Version = 1
	return nil
}

// Save is a conditional update on version. Identities are replaced wholesale
// inside the same transaction.
func (s *Store) Save(ctx context.Context, u *authcore.User) error {
	u.Email = strings.ToLower(u.Email)

	err := withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		args := append(userArgs(u), u.Version)
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET first_name = $2, last_name = $3, email = $4, password_hash = $5,
			 failed_login_attempts = $6, is_locked = $7, lock_until = $8, last_login_at = $9,
			 last_login_ip = $10, login_count = $11, reset_token_hash = $12, reset_expiry = $13,
			 refresh_token_hash = $14, linked_providers = $15, last_provider = $16, email_verified = $17,
			 email_verified_at = $18, two_factor_enabled = $19, two_factor_secret = $20, created_at = $21,
			 updated_at = $22, version = version + 1
			 WHERE id = $1 AND version = $23`,
			args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, u.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return authcore.ErrUserNotFound
			}
			return authcore.ErrVersionConflict
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM user_identities WHERE user_id = $1`, u.ID); err != nil {
			return err
		}
		return insertIdentities(ctx, tx, u)
	})
	if err != nil {
		return mapWriteError(err)
	}
	u.Version++
	return nil
}

func (s *Store) getOne(ctx context.Context, query string, arg any) (*authcore.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authcore.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := s.loadIdentities(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) loadIdentities(ctx context.Context, u *authcore.User) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM user_identities WHERE user_id = $1`, u.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			provider               string
			id                     authcore.ProviderIdentity
			scopes                 string
			tokenExpiry, consented sql.NullTime
		)
		if err := rows.Scan(&provider, &id.ExternalID, &id.Username, &id.ProfileURL, &id.AccessToken,
			&id.RefreshToken, &tokenExpiry, &scopes, &consented); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		id.TokenExpiry = fromNullTime(tokenExpiry)
		id.ConsentedAt = fromNullTime(consented)
		id.Scopes = splitList(scopes, " ")
		if u.Identities == nil {
			u.Identities = make(map[authcore.ProviderID]*authcore.ProviderIdentity)
		}
		u.Identities[authcore.ProviderID(provider)] = &id
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*authcore.User, error) {
	var (
		u                                       authcore.User
		passwordHash, resetHash, refreshHash    sql.NullString
		lockUntil, lastLogin, resetExpiry, evAt sql.NullTime
		linked, lastProvider                    string
	)
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &passwordHash, &u.FailedLoginAttempts,
		&u.IsLocked, &lockUntil, &lastLogin, &u.LastLoginIP, &u.LoginCount, &resetHash, &resetExpiry,
		&refreshHash, &linked, &lastProvider, &u.EmailVerified, &evAt, &u.TwoFactorEnabled,
		&u.TwoFactorSecret, &u.CreatedAt, &u.UpdatedAt, &u.Version)
	if err != nil {
		return nil, err
	}

	u.PasswordHash = passwordHash.String
	u.ResetTokenHash = resetHash.String
	u.RefreshTokenHash = refreshHash.String
	u.LockUntil = fromNullTime(lockUntil)
	u.LastLoginAt = fromNullTime(lastLogin)
	u.ResetExpiry = fromNullTime(resetExpiry)
	u.EmailVerifiedAt = fromNullTime(evAt)
	u.LastProvider = authcore.ProviderID(lastProvider)
	for _, p := range splitList(linked, ",") {
		u.LinkedProviders = append(u.LinkedProviders, authcore.ProviderID(p))
	}
	return &u, nil
}

func userArgs(u *authcore.User) []any {
	linked := make([]string, 0, len(u.LinkedProviders))
	for _, p := range u.LinkedProviders {
		linked = append(linked, string(p))
	}
	return []any{
		u.ID, u.FirstName, u.LastName, u.Email, nullString(u.PasswordHash), u.FailedLoginAttempts,
		u.IsLocked, nullTime(u.LockUntil), nullTime(u.LastLoginAt), u.LastLoginIP, u.LoginCount,
		nullString(u.ResetTokenHash), nullTime(u.ResetExpiry), nullString(u.RefreshTokenHash),
		strings.Join(linked, ","), string(u.LastProvider), u.EmailVerified, nullTime(u.EmailVerifiedAt),
		u.TwoFactorEnabled, u.TwoFactorSecret, u.CreatedAt, u.UpdatedAt,
	}
}

func insertIdentities(ctx context.Context, tx DBTX, u *authcore.User) error {
	for provider := range u.Identities {
		id := u.Identity(provider)
		if id == nil {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO user_identities (user_id, `+identityColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			u.ID, string(provider), id.ExternalID, id.Username, id.ProfileURL, id.AccessToken,
			id.RefreshToken, nullTime(id.TokenExpiry), strings.Join(id.Scopes, " "), nullTime(id.ConsentedAt))
		if err != nil {
			return err
		}
	}
	return nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return authcore.ErrDuplicateIdentity
	case errors.Is(err, authcore.ErrVersionConflict), errors.Is(err, authcore.ErrUserNotFound):
		return err
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

func splitList(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}
