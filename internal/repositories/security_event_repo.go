package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BradenHooton/postguard/internal/database"
	"github.com/BradenHooton/postguard/internal/models"
)

const securityEventColumns = `id, event_type, user_id, user_agent, occurred_at, ip_address, details, severity, environment`

type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

func scanSecurityEventRow(row rowScanner) (*models.SecurityEvent, error) {
	var e models.SecurityEvent
	err := row.Scan(
		&e.ID, &e.EventType, &e.UserID, &e.UserAgent, &e.Timestamp,
		&e.IPAddress, &e.Details, &e.Severity, &e.Environment,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &e, nil
}

func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		e, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}
	return events, nil
}

// Create appends an event. Events are never updated.
func (r *SecurityEventRepository) Create(ctx context.Context, e *models.SecurityEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO security_events (`+securityEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.EventType, e.UserID, e.UserAgent, e.Timestamp,
		e.IPAddress, e.Details, string(e.Severity), e.Environment,
	)
	if err != nil {
		return fmt.Errorf("failed to create security event: %w", database.MapPostgresError(err))
	}
	return nil
}

// ListByUser returns the newest events of userID first.
func (r *SecurityEventRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+securityEventColumns+`
		FROM security_events WHERE user_id = $1
		ORDER BY occurred_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	return scanSecurityEventRows(rows)
}

// ListBySeverity returns the newest events of the given severity across all
// users.
func (r *SecurityEventRepository) ListBySeverity(ctx context.Context, severity models.Severity, limit int) ([]*models.SecurityEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+securityEventColumns+`
		FROM security_events WHERE severity = $1
		ORDER BY occurred_at DESC LIMIT $2`, string(severity), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	return scanSecurityEventRows(rows)
}
