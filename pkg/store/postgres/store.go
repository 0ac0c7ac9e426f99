// Package postgres provides a PostgreSQL-backed chat repository.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/store"
)

//go:embed schema.sql
var schema string

const (
	receiptDelivered = "delivered"
	receiptRead      = "read"
)

// Store handles PostgreSQL database operations.
type Store struct {
	pool *pgxpool.Pool
}

// compile-time check to ensure Store implements Repository.
var _ store.Repository = (*Store)(nil)

// Open creates a connection pool and applies the schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Actors ---

func (s *Store) CreateActor(ctx context.Context, actor chat.Actor) error {
	if actor.ID == "" {
		return errors.New("actor id is required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO actors (id, name, email) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email
	`, actor.ID, actor.Name, actor.Email)
	return err
}

func (s *Store) FindActorByID(ctx context.Context, id string) (*chat.Actor, error) {
	a := &chat.Actor{}
	err := s.pool.QueryRow(ctx, `SELECT id, name, email FROM actors WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *Store) FindActorsByIDs(ctx context.Context, ids []string) ([]chat.Actor, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, email FROM actors WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Actor, error) {
		var a chat.Actor
		err := row.Scan(&a.ID, &a.Name, &a.Email)
		return a, err
	})
}

// --- Rooms ---

const roomColumns = `r.id, r.name, r.description, r.type, r.created_by, r.last_message_id, r.last_activity,
	r.is_active, r.created_at, r.updated_at`

func (s *Store) CreateRoom(ctx context.Context, room *chat.Room) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rooms (id, name, description, type, created_by, last_message_id, last_activity,
				is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, room.ID, room.Name, room.Description, string(room.Type), room.CreatedBy, room.LastMessageID,
			room.LastActivity, room.IsActive, room.CreatedAt, room.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		return insertParticipants(ctx, tx, room)
	})
}

func (s *Store) SaveRoom(ctx context.Context, room *chat.Room) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE rooms SET name = $2, description = $3, type = $4, last_message_id = $5,
				last_activity = $6, is_active = $7, updated_at = $8
			WHERE id = $1
		`, room.ID, room.Name, room.Description, string(room.Type), room.LastMessageID,
			room.LastActivity, room.IsActive, room.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update room: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM room_participants WHERE room_id = $1`, room.ID); err != nil {
			return fmt.Errorf("clear participants: %w", err)
		}
		return insertParticipants(ctx, tx, room)
	})
}

func insertParticipants(ctx context.Context, tx pgx.Tx, room *chat.Room) error {
	batch := &pgx.Batch{}
	for i, p := range room.Participants {
		batch.Queue(`
			INSERT INTO room_participants (room_id, actor_id, role, position, joined_at, last_seen)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, room.ID, p.ActorID, string(p.Role), i, p.JoinedAt, p.LastSeen)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert participants: %w", err)
	}
	return nil
}

func (s *Store) FindRoomByID(ctx context.Context, id string) (*chat.Room, error) {
	rooms, err := s.queryRooms(ctx, `SELECT `+roomColumns+` FROM rooms r WHERE r.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, store.ErrNotFound
	}
	return &rooms[0], nil
}

func (s *Store) FindRoomsByIDs(ctx context.Context, ids []string) ([]chat.Room, error) {
	return s.queryRooms(ctx, `SELECT `+roomColumns+` FROM rooms r WHERE r.id = ANY($1)`, ids)
}

func (s *Store) FindRoomsByParticipant(ctx context.Context, actorID string) ([]chat.Room, error) {
	return s.queryRooms(ctx, `
		SELECT `+roomColumns+`
		FROM rooms r JOIN room_participants p ON p.room_id = r.id
		WHERE p.actor_id = $1 AND r.is_active
		ORDER BY r.last_activity DESC
	`, actorID)
}

func (s *Store) FindDirectRoom(ctx context.Context, actorA, actorB string) (*chat.Room, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT r.id FROM rooms r
		JOIN room_participants a ON a.room_id = r.id AND a.actor_id = $1
		JOIN room_participants b ON b.room_id = r.id AND b.actor_id = $2
		WHERE r.type = $3 LIMIT 1
	`, actorA, actorB, string(chat.RoomDirect)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.FindRoomByID(ctx, id)
}

func (s *Store) TouchRoom(ctx context.Context, roomID, lastMessageID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rooms SET last_message_id = COALESCE(NULLIF($2, ''), last_message_id), last_activity = $3
		WHERE id = $1
	`, roomID, lastMessageID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) TouchParticipant(ctx context.Context, roomID, actorID string, at time.Time) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE room_participants SET last_seen = $3 WHERE room_id = $1 AND actor_id = $2
	`, roomID, actorID, at); err != nil {
		return err
	}
	return s.TouchRoom(ctx, roomID, "", at)
}

func (s *Store) queryRooms(ctx context.Context, query string, args ...any) ([]chat.Room, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	rooms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Room, error) {
		var r chat.Room
		var roomType string
		err := row.Scan(&r.ID, &r.Name, &r.Description, &roomType, &r.CreatedBy, &r.LastMessageID,
			&r.LastActivity, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
		r.Type = chat.RoomType(roomType)
		r.LastActivity = r.LastActivity.UTC()
		r.CreatedAt = r.CreatedAt.UTC()
		r.UpdatedAt = r.UpdatedAt.UTC()
		return r, err
	})
	if err != nil || len(rooms) == 0 {
		return rooms, err
	}

	index := make(map[string]int, len(rooms))
	ids := make([]string, len(rooms))
	for i, r := range rooms {
		index[r.ID] = i
		ids[i] = r.ID
	}
	prows, err := s.pool.Query(ctx, `
		SELECT room_id, actor_id, role, joined_at, last_seen FROM room_participants
		WHERE room_id = ANY($1) ORDER BY room_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var roomID, role string
		var p chat.Participant
		if err := prows.Scan(&roomID, &p.ActorID, &role, &p.JoinedAt, &p.LastSeen); err != nil {
			return nil, err
		}
		p.Role = chat.Role(role)
		p.JoinedAt = p.JoinedAt.UTC()
		p.LastSeen = p.LastSeen.UTC()
		i := index[roomID]
		rooms[i].Participants = append(rooms[i].Participants, p)
	}
	return rooms, prows.Err()
}

// --- Messages ---

const messageColumns = `id, room_id, sender_id, content, type, created_at, edited_at, is_edited, is_deleted,
	deleted_at, reply_to, fwd_message_id, fwd_sender_id, fwd_room_id, fwd_by, fwd_at`

func (s *Store) CreateMessage(ctx context.Context, msg *chat.Message) error {
	var fwd chat.ForwardedFrom
	var fwdAt *time.Time
	if msg.ForwardedFrom != nil {
		fwd = *msg.ForwardedFrom
		fwdAt = &fwd.ForwardedAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, msg.ID, msg.RoomID, msg.SenderID, msg.Content, string(msg.Type), msg.CreatedAt, msg.EditedAt,
		msg.IsEdited, msg.IsDeleted, msg.DeletedAt, msg.ReplyTo, fwd.OriginalMessage, fwd.OriginalSender,
		fwd.OriginalRoom, fwd.ForwardedBy, fwdAt)
	return err
}

func (s *Store) FindMessageByID(ctx context.Context, id string) (*chat.Message, error) {
	msgs, err := s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, store.ErrNotFound
	}
	return &msgs[0], nil
}

func (s *Store) FindMessagesByIDs(ctx context.Context, ids []string) ([]chat.Message, error) {
	return s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ANY($1)`, ids)
}

func (s *Store) FindMessagesByRoom(ctx context.Context, roomID string, before time.Time, limit int) ([]chat.Message, error) {
	var beforeArg *time.Time
	if !before.IsZero() {
		beforeArg = &before
	}
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}
	msgs, err := s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE room_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC, id DESC LIMIT $3
	`, roomID, beforeArg, limitArg)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) CountUnread(ctx context.Context, roomID, actorID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages m
		WHERE m.room_id = $1 AND NOT m.is_deleted AND m.sender_id <> $2
		  AND NOT EXISTS (
		    SELECT 1 FROM message_receipts r
		    WHERE r.message_id = m.id AND r.actor_id = $2 AND r.kind = $3
		  )
	`, roomID, actorID, receiptRead).Scan(&n)
	return n, err
}

func (s *Store) SaveMessage(ctx context.Context, msg *chat.Message) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET content = $2, is_edited = $3, edited_at = $4, is_deleted = $5, deleted_at = $6
		WHERE id = $1
	`, msg.ID, msg.Content, msg.IsEdited, msg.EditedAt, msg.IsDeleted, msg.DeletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AddDeletedFor(ctx context.Context, messageID, actorID string) error {
	return s.insertIfMessage(ctx, `
		INSERT INTO message_hidden (message_id, actor_id)
		SELECT id, $2 FROM messages WHERE id = $1
		ON CONFLICT DO NOTHING
	`, messageID, actorID)
}

func (s *Store) MarkDelivered(ctx context.Context, messageID, actorID string, at time.Time) error {
	return s.insertReceipt(ctx, messageID, actorID, receiptDelivered, at)
}

func (s *Store) MarkRead(ctx context.Context, messageID, actorID string, at time.Time) error {
	return s.insertReceipt(ctx, messageID, actorID, receiptRead, at)
}

func (s *Store) insertReceipt(ctx context.Context, messageID, actorID, kind string, at time.Time) error {
	return s.insertIfMessage(ctx, `
		INSERT INTO message_receipts (message_id, actor_id, kind, at)
		SELECT id, $2, $3, $4 FROM messages WHERE id = $1
		ON CONFLICT DO NOTHING
	`, messageID, actorID, kind, at)
}

// insertIfMessage runs an idempotent insert and reports ErrNotFound when the message is missing.
func (s *Store) insertIfMessage(ctx context.Context, query, messageID string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, append([]any{messageID}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, messageID).
		Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Message, error) {
		var m chat.Message
		var msgType string
		var fwd chat.ForwardedFrom
		var fwdAt *time.Time
		err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &msgType, &m.CreatedAt, &m.EditedAt,
			&m.IsEdited, &m.IsDeleted, &m.DeletedAt, &m.ReplyTo, &fwd.OriginalMessage, &fwd.OriginalSender,
			&fwd.OriginalRoom, &fwd.ForwardedBy, &fwdAt)
		m.Type = chat.MessageType(msgType)
		m.CreatedAt = m.CreatedAt.UTC()
		if fwd.OriginalMessage != "" {
			if fwdAt != nil {
				fwd.ForwardedAt = fwdAt.UTC()
			}
			m.ForwardedFrom = &fwd
		}
		return m, err
	})
	if err != nil || len(msgs) == 0 {
		return msgs, err
	}

	index := make(map[string]int, len(msgs))
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		index[m.ID] = i
		ids[i] = m.ID
	}

	rrows, err := s.pool.Query(ctx, `
		SELECT message_id, actor_id, kind, at FROM message_receipts
		WHERE message_id = ANY($1) ORDER BY at, actor_id
	`, ids)
	if err != nil {
		return nil, err
	}
	for rrows.Next() {
		var msgID, kind string
		var r chat.Receipt
		if err := rrows.Scan(&msgID, &r.ActorID, &kind, &r.At); err != nil {
			rrows.Close()
			return nil, err
		}
		r.At = r.At.UTC()
		m := &msgs[index[msgID]]
		if kind == receiptRead {
			m.ReadBy = append(m.ReadBy, r)
		} else {
			m.DeliveredTo = append(m.DeliveredTo, r)
		}
	}
	rrows.Close()
	if err := rrows.Err(); err != nil {
		return nil, err
	}

	hrows, err := s.pool.Query(ctx, `SELECT message_id, actor_id FROM message_hidden WHERE message_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var msgID, actorID string
		if err := hrows.Scan(&msgID, &actorID); err != nil {
			return nil, err
		}
		m := &msgs[index[msgID]]
		m.DeletedFor = append(m.DeletedFor, actorID)
	}
	return msgs, hrows.Err()
}

// Truncate empties every chat table. Intended for test databases.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE message_hidden, message_receipts, messages, room_participants, rooms, actors`)
	return err
}
