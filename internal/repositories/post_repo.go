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
)

const postColumns = `id, text, user_id, user_email, display_name, created_at, public, sanitized`

type PostRepository struct {
	pool *pgxpool.Pool
}

func NewPostRepository(db *database.DB) *PostRepository {
	return &PostRepository{pool: db.Pool}
}

func scanPostRow(row rowScanner) (*models.Post, error) {
	var p models.Post
	err := row.Scan(&p.ID, &p.Text, &p.UserID, &p.UserEmail, &p.DisplayName, &p.CreatedAt, &p.Public, &p.Sanitized)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &p, nil
}

func scanPostRows(rows pgx.Rows) ([]*models.Post, error) {
	defer rows.Close()

	posts := make([]*models.Post, 0)
	for rows.Next() {
		p, err := scanPostRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating post rows: %w", err)
	}
	return posts, nil
}

// Create stores post as given. Text must already be sanitized.
func (r *PostRepository) Create(ctx context.Context, post *models.Post) (*models.Post, error) {
	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}

	return scanPostRow(r.pool.QueryRow(ctx, `
		INSERT INTO posts (`+postColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+postColumns,
		post.ID, post.Text, post.UserID, post.UserEmail, post.DisplayName,
		post.CreatedAt, post.Public, post.Sanitized,
	))
}

// ListByUser returns every post of userID, newest first.
func (r *PostRepository) ListByUser(ctx context.Context, userID string) ([]*models.Post, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+postColumns+`
		FROM posts WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	return scanPostRows(rows)
}

// Delete removes a post owned by userID. Posts of other users are reported
// as not found.
func (r *PostRepository) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
