package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chilledoj/roomchat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgxpool.Pool used by PostgresStore.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id          UUID PRIMARY KEY,
	sender_id   TEXT NOT NULL,
	sender_name TEXT NOT NULL,
	content     TEXT NOT NULL,
	room        TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	reactions   JSONB NOT NULL DEFAULT '{}'::jsonb,
	version     BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS messages_room_created_at_idx ON messages (room, created_at);
`

const messageColumns = `id, sender_id, sender_name, content, room, created_at, reactions, version`

// PostgresStore persists messages in PostgreSQL. Reaction updates are guarded
// by the row's version column.
type PostgresStore struct {
	db DBTX
}

var _ roomchat.MessageStore = (*PostgresStore)(nil)

func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool, verifies it and ensures the schema exists.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, fields roomchat.NewMessage) (*roomchat.Message, error) {
	id := uuid.New()
	row := s.db.QueryRow(ctx,
		`INSERT INTO messages (id, sender_id, sender_name, content, room, created_at, reactions, version)
		 VALUES ($1, $2, $3, $4, $5, $6, '{}'::jsonb, 1)
		 RETURNING `+messageColumns,
		pgtype.UUID{Bytes: id, Valid: true}, fields.SenderID, fields.SenderName, fields.Content, fields.Room, fields.Timestamp,
	)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) GetMessageByID(ctx context.Context, id string) (*roomchat.Message, error) {
	uid, ok := parseID(id)
	if !ok {
		return nil, roomchat.ErrMessageNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, uid)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, roomchat.ErrMessageNotFound
		}
		return nil, fmt.Errorf("selecting message: %w", err)
	}
	return msg, nil
}

// UpdateMessage writes msg's reactions if the stored version still matches.
func (s *PostgresStore) UpdateMessage(ctx context.Context, msg *roomchat.Message) error {
	uid, ok := parseID(msg.ID)
	if !ok {
		return roomchat.ErrMessageNotFound
	}
	reactions := msg.Reactions
	if reactions == nil {
		reactions = roomchat.Reactions{}
	}
	var version int64
	err := s.db.QueryRow(ctx,
		`UPDATE messages SET reactions = $1, version = version + 1
		 WHERE id = $2 AND version = $3
		 RETURNING version`,
		reactions, uid, msg.Version,
	).Scan(&version)
	if err == nil {
		msg.Version = version
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("updating message: %w", err)
	}

	// no row matched: either the message is gone or the version moved on
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, uid).Scan(&exists); err != nil {
		return fmt.Errorf("checking message: %w", err)
	}
	if !exists {
		return roomchat.ErrMessageNotFound
	}
	return roomchat.ErrVersionConflict
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	uid, ok := parseID(id)
	if !ok {
		return roomchat.ErrMessageNotFound
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM messages WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return roomchat.ErrMessageNotFound
	}
	return nil
}

func (s *PostgresStore) ListMessagesByRoom(ctx context.Context, room string) ([]*roomchat.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE room = $1 ORDER BY created_at ASC, id ASC`, room)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	out := make([]*roomchat.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRow(ctx, `SELECT 1`).Scan(&one)
}

func scanMessage(row pgx.Row) (*roomchat.Message, error) {
	var (
		msg       roomchat.Message
		id        pgtype.UUID
		createdAt time.Time
	)
	if err := row.Scan(&id, &msg.SenderID, &msg.SenderName, &msg.Content, &msg.Room, &createdAt, &msg.Reactions, &msg.Version); err != nil {
		return nil, err
	}
	msg.ID = uuid.UUID(id.Bytes).String()
	msg.Timestamp = createdAt.UTC()
	if msg.Reactions == nil {
		msg.Reactions = roomchat.Reactions{}
	}
	return &msg, nil
}

func parseID(id string) (pgtype.UUID, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, false
	}
	return pgtype.UUID{Bytes: u, Valid: true}, true
}
