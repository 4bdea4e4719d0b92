package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"smarteen-shop/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetUser retrieves a user by id
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUserContact updates a user's phone and address. Empty fields are
// left untouched so partial shipping details from the gateway never erase
// stored values.
func (s *Store) UpdateUserContact(ctx context.Context, userID, phone, street, city, postalCode, country string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			phone = COALESCE(NULLIF($1, ''), phone),
			street = COALESCE(NULLIF($2, ''), street),
			city = COALESCE(NULLIF($3, ''), city),
			postal_code = COALESCE(NULLIF($4, ''), postal_code),
			country = COALESCE(NULLIF($5, ''), country),
			updated_at = NOW()
		WHERE id = $6`,
		phone, street, city, postalCode, country, userID)
	return err
}

// GetChildrenByUserID retrieves a user's configured children
func (s *Store) GetChildrenByUserID(ctx context.Context, userID string) ([]models.Child, error) {
	var children []models.Child
	err := s.db.SelectContext(ctx, &children,
		"SELECT * FROM children WHERE user_id = $1 ORDER BY created_at", userID)
	return children, err
}

// CreateChild adds a child profile under a user
func (s *Store) CreateChild(ctx context.Context, child *models.Child) error {
	if child.ID == "" {
		child.ID = uuid.New().String()
	}
	query := `
		INSERT INTO children (id, user_id, first_name, birth_date, has_smarteen)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	return s.db.GetContext(ctx, &child.CreatedAt, query,
		child.ID, child.UserID, child.FirstName, child.BirthDate, child.HasSmarTeen)
}

// CreateAdminNotification persists an operator notification
func (s *Store) CreateAdminNotification(ctx context.Context, n *models.AdminNotification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	query := `
		INSERT INTO admin_notifications (id, type, batch_id, message, read)
		VALUES ($1, $2, $3, $4, false)
		RETURNING created_at`

	return s.db.GetContext(ctx, &n.CreatedAt, query, n.ID, n.Type, n.BatchID, n.Message)
}

// GetAdminNotifications retrieves notifications, newest first
func (s *Store) GetAdminNotifications(ctx context.Context) ([]models.AdminNotification, error) {
	var notifications []models.AdminNotification
	err := s.db.SelectContext(ctx, &notifications,
		"SELECT * FROM admin_notifications ORDER BY created_at DESC LIMIT 100")
	return notifications, err
}

// IsEventProcessed checks if a webhook event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks a webhook event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
