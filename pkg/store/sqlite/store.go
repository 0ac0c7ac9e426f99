// Package sqlite provides a SQLite-backed chat repository.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/store"
	"github.com/a-essam23/go-chat/pkg/store/sqlite/migrations"
	_ "modernc.org/sqlite"
)

const (
	receiptDelivered = "delivered"
	receiptRead      = "read"
)

// Store persists chat state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// compile-time check to ensure Store implements Repository.
var _ store.Repository = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Open opens a SQLite chat store and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// --- Actors ---

func (s *Store) CreateActor(ctx context.Context, actor chat.Actor) error {
	if actor.ID == "" {
		return fmt.Errorf("actor id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO actors (id, name, email) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email`,
		actor.ID, actor.Name, actor.Email,
	)
	if err != nil {
		return fmt.Errorf("create actor: %w", err)
	}
	return nil
}

func (s *Store) FindActorByID(ctx context.Context, id string) (*chat.Actor, error) {
	var a chat.Actor
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, email FROM actors WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find actor: %w", err)
	}
	return &a, nil
}

func (s *Store) FindActorsByIDs(ctx context.Context, ids []string) ([]chat.Actor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, name, email FROM actors WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("find actors: %w", err)
	}
	defer rows.Close()
	var out []chat.Actor
	for rows.Next() {
		var a chat.Actor
		if err := rows.Scan(&a.ID, &a.Name, &a.Email); err != nil {
			return nil, fmt.Errorf("scan actor: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Rooms ---

const roomColumns = `id, name, description, type, created_by, last_message_id, last_activity, is_active, created_at, updated_at`

func (s *Store) CreateRoom(ctx context.Context, room *chat.Room) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create room: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rooms (`+roomColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		room.ID, room.Name, room.Description, string(room.Type), room.CreatedBy, room.LastMessageID,
		toMillis(room.LastActivity), room.IsActive, toMillis(room.CreatedAt), toMillis(room.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	if err := insertParticipants(ctx, tx, room); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SaveRoom(ctx context.Context, room *chat.Room) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save room: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE rooms SET name = ?, description = ?, type = ?, last_message_id = ?, last_activity = ?,
		   is_active = ?, updated_at = ?
		 WHERE id = ?`,
		room.Name, room.Description, string(room.Type), room.LastMessageID, toMillis(room.LastActivity),
		room.IsActive, toMillis(room.UpdatedAt), room.ID,
	)
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM room_participants WHERE room_id = ?`, room.ID); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	if err := insertParticipants(ctx, tx, room); err != nil {
		return err
	}
	return tx.Commit()
}

func insertParticipants(ctx context.Context, tx *sql.Tx, room *chat.Room) error {
	for i, p := range room.Participants {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO room_participants (room_id, actor_id, role, position, joined_at, last_seen)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			room.ID, p.ActorID, string(p.Role), i, toMillis(p.JoinedAt), toMillis(p.LastSeen),
		)
		if err != nil {
			return fmt.Errorf("insert participant %s: %w", p.ActorID, err)
		}
	}
	return nil
}

func (s *Store) FindRoomByID(ctx context.Context, id string) (*chat.Room, error) {
	rooms, err := s.queryRooms(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, store.ErrNotFound
	}
	return &rooms[0], nil
}

func (s *Store) FindRoomsByIDs(ctx context.Context, ids []string) ([]chat.Room, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryRooms(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...,
	)
}

func (s *Store) FindRoomsByParticipant(ctx context.Context, actorID string) ([]chat.Room, error) {
	return s.queryRooms(ctx,
		`SELECT `+prefixed("r", roomColumns)+`
		 FROM rooms r JOIN room_participants p ON p.room_id = r.id
		 WHERE p.actor_id = ? AND r.is_active = 1
		 ORDER BY r.last_activity DESC`,
		actorID,
	)
}

func (s *Store) FindDirectRoom(ctx context.Context, actorA, actorB string) (*chat.Room, error) {
	var id string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT r.id FROM rooms r
		 JOIN room_participants a ON a.room_id = r.id AND a.actor_id = ?
		 JOIN room_participants b ON b.room_id = r.id AND b.actor_id = ?
		 WHERE r.type = ? LIMIT 1`,
		actorA, actorB, string(chat.RoomDirect),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find direct room: %w", err)
	}
	return s.FindRoomByID(ctx, id)
}

func (s *Store) TouchRoom(ctx context.Context, roomID, lastMessageID string, at time.Time) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE rooms SET last_message_id = CASE WHEN ? = '' THEN last_message_id ELSE ? END,
		   last_activity = ?
		 WHERE id = ?`,
		lastMessageID, lastMessageID, toMillis(at), roomID,
	)
	if err != nil {
		return fmt.Errorf("touch room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) TouchParticipant(ctx context.Context, roomID, actorID string, at time.Time) error {
	if _, err := s.sqlDB.ExecContext(ctx,
		`UPDATE room_participants SET last_seen = ? WHERE room_id = ? AND actor_id = ?`,
		toMillis(at), roomID, actorID,
	); err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	return s.TouchRoom(ctx, roomID, "", at)
}

func (s *Store) queryRooms(ctx context.Context, query string, args ...any) ([]chat.Room, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []chat.Room
	for rows.Next() {
		var (
			r                              chat.Room
			roomType                       string
			lastActivity, created, updated int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &roomType, &r.CreatedBy, &r.LastMessageID,
			&lastActivity, &r.IsActive, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		r.Type = chat.RoomType(roomType)
		r.LastActivity = fromMillis(lastActivity)
		r.CreatedAt = fromMillis(created)
		r.UpdatedAt = fromMillis(updated)
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadParticipants(ctx, rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (s *Store) loadParticipants(ctx context.Context, rooms []chat.Room) error {
	if len(rooms) == 0 {
		return nil
	}
	index := make(map[string]int, len(rooms))
	ids := make([]string, len(rooms))
	for i, r := range rooms {
		index[r.ID] = i
		ids[i] = r.ID
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT room_id, actor_id, role, joined_at, last_seen FROM room_participants
		 WHERE room_id IN (`+placeholders(len(ids))+`) ORDER BY room_id, position`,
		stringArgs(ids)...,
	)
	if err != nil {
		return fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			roomID, role string
			p            chat.Participant
			joined, seen int64
		)
		if err := rows.Scan(&roomID, &p.ActorID, &role, &joined, &seen); err != nil {
			return fmt.Errorf("scan participant: %w", err)
		}
		p.Role = chat.Role(role)
		p.JoinedAt = fromMillis(joined)
		p.LastSeen = fromMillis(seen)
		i := index[roomID]
		rooms[i].Participants = append(rooms[i].Participants, p)
	}
	return rows.Err()
}

// --- Messages ---

const messageColumns = `id, room_id, sender_id, content, type, created_at, edited_at, is_edited, is_deleted,
  deleted_at, reply_to, fwd_message_id, fwd_sender_id, fwd_room_id, fwd_by, fwd_at`

func (s *Store) CreateMessage(ctx context.Context, msg *chat.Message) error {
	var fwd chat.ForwardedFrom
	var fwdAt sql.NullInt64
	if msg.ForwardedFrom != nil {
		fwd = *msg.ForwardedFrom
		fwdAt = nullMillis(&fwd.ForwardedAt)
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, msg.SenderID, msg.Content, string(msg.Type), toMillis(msg.CreatedAt),
		nullMillis(msg.EditedAt), msg.IsEdited, msg.IsDeleted, nullMillis(msg.DeletedAt), msg.ReplyTo,
		fwd.OriginalMessage, fwd.OriginalSender, fwd.OriginalRoom, fwd.ForwardedBy, fwdAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) FindMessageByID(ctx context.Context, id string) (*chat.Message, error) {
	msgs, err := s.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, store.ErrNotFound
	}
	return &msgs[0], nil
}

func (s *Store) FindMessagesByIDs(ctx context.Context, ids []string) ([]chat.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...,
	)
}

func (s *Store) FindMessagesByRoom(ctx context.Context, roomID string, before time.Time, limit int) ([]chat.Message, error) {
	var beforeMs int64
	if !before.IsZero() {
		beforeMs = toMillis(before)
	}
	if limit <= 0 {
		limit = -1
	}
	msgs, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE room_id = ? AND (? = 0 OR created_at < ?)
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		roomID, beforeMs, beforeMs, limit,
	)
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
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages m
		 WHERE m.room_id = ? AND m.is_deleted = 0 AND m.sender_id <> ?
		   AND NOT EXISTS (
		     SELECT 1 FROM message_receipts r
		     WHERE r.message_id = m.id AND r.actor_id = ? AND r.kind = ?
		   )`,
		roomID, actorID, actorID, receiptRead,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *Store) SaveMessage(ctx context.Context, msg *chat.Message) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE messages SET content = ?, is_edited = ?, edited_at = ?, is_deleted = ?, deleted_at = ?
		 WHERE id = ?`,
		msg.Content, msg.IsEdited, nullMillis(msg.EditedAt), msg.IsDeleted, nullMillis(msg.DeletedAt), msg.ID,
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AddDeletedFor(ctx context.Context, messageID, actorID string) error {
	if err := s.requireMessage(ctx, messageID); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_hidden (message_id, actor_id) VALUES (?, ?)`,
		messageID, actorID,
	); err != nil {
		return fmt.Errorf("hide message: %w", err)
	}
	return nil
}

func (s *Store) MarkDelivered(ctx context.Context, messageID, actorID string, at time.Time) error {
	return s.insertReceipt(ctx, messageID, actorID, receiptDelivered, at)
}

func (s *Store) MarkRead(ctx context.Context, messageID, actorID string, at time.Time) error {
	return s.insertReceipt(ctx, messageID, actorID, receiptRead, at)
}

func (s *Store) insertReceipt(ctx context.Context, messageID, actorID, kind string, at time.Time) error {
	if err := s.requireMessage(ctx, messageID); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_receipts (message_id, actor_id, kind, at) VALUES (?, ?, ?, ?)`,
		messageID, actorID, kind, toMillis(at),
	); err != nil {
		return fmt.Errorf("insert %s receipt: %w", kind, err)
	}
	return nil
}

func (s *Store) requireMessage(ctx context.Context, messageID string) error {
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, messageID).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("lookup message: %w", err)
	}
	return nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]chat.Message, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m               chat.Message
			msgType         string
			created         int64
			edited, deleted sql.NullInt64
			fwd             chat.ForwardedFrom
			fwdAt           sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &msgType, &created, &edited,
			&m.IsEdited, &m.IsDeleted, &deleted, &m.ReplyTo, &fwd.OriginalMessage, &fwd.OriginalSender,
			&fwd.OriginalRoom, &fwd.ForwardedBy, &fwdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Type = chat.MessageType(msgType)
		m.CreatedAt = fromMillis(created)
		m.EditedAt = fromNullMillis(edited)
		m.DeletedAt = fromNullMillis(deleted)
		if fwd.OriginalMessage != "" {
			if fwdAt.Valid {
				fwd.ForwardedAt = fromMillis(fwdAt.Int64)
			}
			m.ForwardedFrom = &fwd
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadMessageSets(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// loadMessageSets fills receipts and per-viewer deletions for msgs.
func (s *Store) loadMessageSets(ctx context.Context, msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	index := make(map[string]int, len(msgs))
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		index[m.ID] = i
		ids[i] = m.ID
	}
	in := placeholders(len(ids))

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT message_id, actor_id, kind, at FROM message_receipts
		 WHERE message_id IN (`+in+`) ORDER BY at, actor_id`,
		stringArgs(ids)...,
	)
	if err != nil {
		return fmt.Errorf("query receipts: %w", err)
	}
	for rows.Next() {
		var (
			msgID, kind string
			r           chat.Receipt
			at          int64
		)
		if err := rows.Scan(&msgID, &r.ActorID, &kind, &at); err != nil {
			rows.Close()
			return fmt.Errorf("scan receipt: %w", err)
		}
		r.At = fromMillis(at)
		m := &msgs[index[msgID]]
		if kind == receiptRead {
			m.ReadBy = append(m.ReadBy, r)
		} else {
			m.DeliveredTo = append(m.DeliveredTo, r)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.sqlDB.QueryContext(ctx,
		`SELECT message_id, actor_id FROM message_hidden WHERE message_id IN (`+in+`)`,
		stringArgs(ids)...,
	)
	if err != nil {
		return fmt.Errorf("query hidden: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msgID, actorID string
		if err := rows.Scan(&msgID, &actorID); err != nil {
			return fmt.Errorf("scan hidden: %w", err)
		}
		m := &msgs[index[msgID]]
		m.DeletedFor = append(m.DeletedFor, actorID)
	}
	return rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
