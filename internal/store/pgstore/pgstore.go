package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"floorchat/internal/store"

	"github.com/google/uuid"
)

type PostgresStore struct {
	db *sql.DB
}

var _ store.Store = (*PostgresStore)(nil)

func New(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// messageCols selects a message joined with its author's display fields; the
// query using it must alias chat_messages as m and users as u.
const messageCols = `m.id::text, m.content, m.floor_id, m.user_id, m.created_at,
	       u.id, coalesce(nullif(u.name, ''), u.email), coalesce(u.image, '')`

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*store.User, error) {
	const q = `SELECT id, coalesce(name, ''), email, coalesce(image, ''), role
	             FROM users WHERE id = $1`

	u := &store.User{}
	err := s.db.QueryRowContext(ctx, q, userID).
		Scan(&u.ID, &u.Name, &u.Email, &u.Image, &u.Role)
	if err != nil {
		return nil, dbErr(err)
	}
	return u, nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, userID string) (*store.Membership, error) {
	const q = `SELECT user_id, floor_id, joined_at
	             FROM floor_memberships
	            WHERE user_id = $1
	            ORDER BY joined_at
	            LIMIT 1`

	m := &store.Membership{}
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&m.UserID, &m.FloorID, &m.JoinedAt)
	if err != nil {
		return nil, dbErr(err)
	}
	return m, nil
}

func (s *PostgresStore) GetFloor(ctx context.Context, floorID string) (*store.Floor, error) {
	const q = `SELECT id, name, building_name FROM floors WHERE id = $1`

	f := &store.Floor{}
	err := s.db.QueryRowContext(ctx, q, floorID).Scan(&f.ID, &f.Name, &f.BuildingName)
	if err != nil {
		return nil, dbErr(err)
	}
	return f, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, in store.NewMessage) (*store.ChatMessage, error) {
	const q = `WITH m AS (
	               INSERT INTO chat_messages (content, floor_id, user_id)
	                    VALUES ($1, $2, $3)
	                 RETURNING id, content, floor_id, user_id, created_at
	           )
	           SELECT ` + messageCols + `
	             FROM m JOIN users u ON u.id = m.user_id`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, q, in.Content, in.FloorID, in.AuthorID))
	if err != nil {
		return nil, dbErr(err)
	}
	return msg, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (*store.ChatMessage, error) {
	// Ids that are not UUIDs cannot exist; answering not-found here keeps a
	// malformed id from surfacing as a database failure.
	if _, err := uuid.Parse(messageID); err != nil {
		return nil, store.ErrNotFound
	}
	const q = `SELECT ` + messageCols + `
	             FROM chat_messages m JOIN users u ON u.id = m.user_id
	            WHERE m.id = $1`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, q, messageID))
	if err != nil {
		return nil, dbErr(err)
	}
	return msg, nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) error {
	if _, err := uuid.Parse(messageID); err != nil {
		return store.ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE id = $1`, messageID)
	if err != nil {
		return dbErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, floorID string, before time.Time, limit int) ([]store.ChatMessage, error) {
	base := `SELECT ` + messageCols + `
	           FROM chat_messages m JOIN users u ON u.id = m.user_id
	          WHERE m.floor_id = $1`

	var (
		rows *sql.Rows
		err  error
	)
	if before.IsZero() {
		rows, err = s.db.QueryContext(ctx,
			base+" ORDER BY m.created_at DESC, m.id DESC LIMIT $2", floorID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			base+" AND m.created_at < $2 ORDER BY m.created_at DESC, m.id DESC LIMIT $3", floorID, before, limit)
	}
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()

	list := make([]store.ChatMessage, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, dbErr(err)
		}
		list = append(list, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err)
	}
	return list, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*store.ChatMessage, error) {
	m := &store.ChatMessage{}
	err := row.Scan(&m.ID, &m.Content, &m.FloorID, &m.AuthorID, &m.CreatedAt,
		&m.Author.ID, &m.Author.Name, &m.Author.Image)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func dbErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return fmt.Errorf("db error: %w", err)
}
