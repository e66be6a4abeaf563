package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BradenHooton/postguard/internal/database"
	"github.com/BradenHooton/postguard/internal/models"
	"github.com/BradenHooton/postguard/pkg/auth"
)

const userColumns = `id, email, password_hash, display_name, email_verified, token_key, role,
	last_sign_in_at, password_changed_at, created_at, updated_at`

type UserRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db, pool: db.Pool}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var passwordHash *string

	err := scanner.Scan(
		&user.ID, &user.Email, &passwordHash, &user.DisplayName,
		&user.EmailVerified, &user.TokenKey, &user.Role,
		&user.LastSignInAt, &user.PasswordChangedAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}
	return &user, nil
}

// querier is satisfied by the pool and by transactions.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadProviders(ctx context.Context, q querier, user *models.User) error {
	rows, err := q.Query(ctx, `
		SELECT provider_id, subject, email, linked_at
		FROM user_providers WHERE user_id = $1 ORDER BY linked_at`, user.ID)
	if err != nil {
		return fmt.Errorf("failed to query providers: %w", err)
	}
	defer rows.Close()

	user.ProviderData = make([]models.ProviderInfo, 0, 2)
	for rows.Next() {
		var p models.ProviderInfo
		if err := rows.Scan(&p.ProviderID, &p.Subject, &p.Email, &p.LinkedAt); err != nil {
			return fmt.Errorf("failed to scan provider: %w", err)
		}
		user.ProviderData = append(user.ProviderData, p)
	}
	return rows.Err()
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	user, err := scanUserRow(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	if err := loadProviders(ctx, r.pool, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail matches case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
}

// GetByProvider finds the user linked to an external account.
func (r *UserRepository) GetByProvider(ctx context.Context, providerID, subject string) (*models.User, error) {
	return r.getOne(ctx, `
		SELECT u.id, u.email, u.password_hash, u.display_name, u.email_verified, u.token_key, u.role,
			u.last_sign_in_at, u.password_changed_at, u.created_at, u.updated_at
		FROM users u JOIN user_providers p ON p.user_id = u.id
		WHERE p.provider_id = $1 AND p.subject = $2`, providerID, subject)
}

// Create inserts user together with its first sign-in method. ID, TokenKey
// and timestamps are assigned here.
func (r *UserRepository) Create(ctx context.Context, user *models.User, provider models.ProviderInfo) (*models.User, error) {
	user.ID = uuid.New().String()

	tokenKey, err := auth.GenerateTokenKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}
	user.TokenKey = tokenKey

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = "user"
	}
	if user.PasswordHash != "" {
		user.PasswordChangedAt = &now
	}

	var passwordHash *string
	if user.PasswordHash != "" {
		passwordHash = &user.PasswordHash
	}

	var created *models.User
	err = r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		created, err = scanUserRow(tx.QueryRow(ctx, `
			INSERT INTO users (id, email, password_hash, display_name, email_verified, token_key, role,
				password_changed_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+userColumns,
			user.ID, user.Email, passwordHash, user.DisplayName, user.EmailVerified,
			user.TokenKey, user.Role, user.PasswordChangedAt, user.CreatedAt, user.UpdatedAt,
		))
		if err != nil {
			return err
		}
		if err := insertProvider(ctx, tx, created.ID, provider, now); err != nil {
			return err
		}
		return loadProviders(ctx, tx, created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func insertProvider(ctx context.Context, tx pgx.Tx, userID string, p models.ProviderInfo, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO user_providers (user_id, provider_id, subject, email, linked_at)
		VALUES ($1, $2, $3, $4, $5)`,
		userID, p.ProviderID, p.Subject, p.Email, at)
	return database.MapPostgresError(err)
}

// LinkProvider attaches another sign-in method to an existing user.
func (r *UserRepository) LinkProvider(ctx context.Context, userID string, provider models.ProviderInfo) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return insertProvider(ctx, tx, userID, provider, time.Now().UTC())
	})
}

// Update writes the mutable profile fields of user.
func (r *UserRepository) Update(ctx context.Context, user *models.User) (*models.User, error) {
	updated, err := scanUserRow(r.pool.QueryRow(ctx, `
		UPDATE users SET display_name = $1, email_verified = $2, role = $3, token_key = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING `+userColumns,
		user.DisplayName, user.EmailVerified, user.Role, user.TokenKey, user.ID,
	))
	if err != nil {
		return nil, err
	}
	if err := loadProviders(ctx, r.pool, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdatePassword stores a new hash and rotates the token key, which
// invalidates every token issued before.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	tokenKey, err := auth.GenerateTokenKey()
	if err != nil {
		return fmt.Errorf("failed to generate token key: %w", err)
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $1, token_key = $2, password_changed_at = NOW(), updated_at = NOW()
		WHERE id = $3`, passwordHash, tokenKey, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) RecordSignIn(ctx context.Context, id string, at time.Time) error {
	result, err := r.pool.Exec(ctx, `UPDATE users SET last_sign_in_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
