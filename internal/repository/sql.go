package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tsubuyaki/internal/metrics"
	"tsubuyaki/internal/model"
)

// SQL stores messages in MySQL or SQLite; both accept the same queries.
type SQL struct {
	db *sql.DB
}

// NewSQL wraps an initialised database (see database.Init)
func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db}
}

// All returns live messages in insertion order
func (r *SQL) All(ctx context.Context) ([]model.Message, error) {
	defer metrics.ObserveStore("all", time.Now())

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, body, username, created_at FROM messages WHERE deleted_at IS NULL ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.Body, &m.Username, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// ByID returns a live message
func (r *SQL) ByID(ctx context.Context, id int64) (model.Message, error) {
	defer metrics.ObserveStore("by_id", time.Now())

	var m model.Message
	err := r.db.QueryRowContext(ctx,
		"SELECT id, body, username, created_at FROM messages WHERE id = ? AND deleted_at IS NULL", id).
		Scan(&m.ID, &m.Body, &m.Username, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("query message %d: %w", id, err)
	}
	return m, nil
}

// Insert stores m with a fresh AUTO_INCREMENT id
func (r *SQL) Insert(ctx context.Context, m model.Message) (model.Message, error) {
	defer metrics.ObserveStore("insert", time.Now())

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO messages (body, username, created_at, deleted_at) VALUES (?, ?, ?, NULL)",
		m.Body, m.Username, m.CreatedAt)
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Message{}, fmt.Errorf("retrieve message id: %w", err)
	}

	return model.Message{
		ID:        id,
		Body:      m.Body,
		Username:  m.Username,
		CreatedAt: m.CreatedAt,
	}, nil
}

// Update replaces body and username of a live message
func (r *SQL) Update(ctx context.Context, m model.Message) (model.Message, error) {
	defer metrics.ObserveStore("update", time.Now())

	res, err := r.db.ExecContext(ctx,
		"UPDATE messages SET body = ?, username = ? WHERE id = ? AND deleted_at IS NULL",
		m.Body, m.Username, m.ID)
	if err != nil {
		return model.Message{}, fmt.Errorf("update message %d: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Message{}, fmt.Errorf("update message %d: %w", m.ID, err)
	}
	if n == 0 {
		return model.Message{}, ErrNotFound
	}
	return r.ByID(ctx, m.ID)
}

// Delete soft-deletes id by setting deleted_at
func (r *SQL) Delete(ctx context.Context, id int64) error {
	defer metrics.ObserveStore("delete", time.Now())

	res, err := r.db.ExecContext(ctx,
		"UPDATE messages SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the underlying database
func (r *SQL) Close() error {
	return r.db.Close()
}
