package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the durable Store backed by a pgx pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects to url and pings the server.
func NewPostgres(ctx context.Context, url string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	logger.Info("postgres connection established")
	return &Postgres{pool: pool, logger: logger}, nil
}

// Pool exposes the pool for the job queue, which shares the database.
func (s *Postgres) Pool() *pgxpool.Pool { return s.pool }

func (s *Postgres) Close() {
	s.logger.Info("closing postgres pool")
	s.pool.Close()
}

// InitSchema applies SchemaSQL.
func (s *Postgres) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Wipe deletes all rows. Tests only.
func (s *Postgres) Wipe(ctx context.Context) error {
	for _, t := range tables {
		if _, err := s.pool.Exec(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("delete %s: %w", t, err)
		}
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const conversationColumns = `c.id, c.pair_key, c.participant_a, c.participant_b, c.created_at, c.updated_at,
	ARRAY(SELECT m.id FROM messages m WHERE m.conversation_id = c.id ORDER BY m.seq)`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.PairKey, &c.Participants[0], &c.Participants[1],
		&c.CreatedAt, &c.UpdatedAt, &c.MessageIDs); err != nil {
		return nil, err
	}
	if c.MessageIDs == nil {
		c.MessageIDs = []string{}
	}
	return &c, nil
}

func getConversation(ctx context.Context, q querier, key string) (*Conversation, error) {
	c, err := scanConversation(q.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.pair_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// UpsertConversation inserts on the unique pair key and reads back whichever
// row won, so concurrent first contacts converge on one conversation.
func (s *Postgres) UpsertConversation(ctx context.Context, a, b string) (*Conversation, error) {
	key := PairKey(a, b)
	pair := sortedPair(a, b)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, pair_key, participant_a, participant_b)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (pair_key) DO NOTHING`,
		uuid.NewString(), key, pair[0], pair[1])
	if err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}
	return getConversation(ctx, s.pool, key)
}

func (s *Postgres) FindConversation(ctx context.Context, a, b string) (*Conversation, error) {
	return getConversation(ctx, s.pool, PairKey(a, b))
}

// AppendMessage bumps the conversation counter and inserts the message in
// one transaction. The row lock on the conversation orders concurrent
// appends to the same pair.
func (s *Postgres) AppendMessage(ctx context.Context, conv *Conversation, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.ConversationID = conv.ID

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var seq int
		err := tx.QueryRow(ctx,
			`UPDATE conversations SET message_count = message_count + 1, updated_at = $2
			 WHERE id = $1 RETURNING message_count`,
			conv.ID, msg.CreatedAt).Scan(&seq)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("bump conversation: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, seq, sender_id, receiver_id, text, image_url, audio_url, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			msg.ID, conv.ID, seq, msg.SenderID, msg.ReceiverID, msg.Text, msg.ImageURL, msg.AudioURL, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	conv.MessageIDs = append(conv.MessageIDs, msg.ID)
	conv.UpdatedAt = msg.CreatedAt
	return nil
}

func (s *Postgres) ListMessages(ctx context.Context, a, b string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.conversation_id, m.sender_id, m.receiver_id, m.text, m.image_url, m.audio_url, m.created_at
		 FROM messages m JOIN conversations c ON c.id = m.conversation_id
		 WHERE c.pair_key = $1
		 ORDER BY m.seq`, PairKey(a, b))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID,
			&m.Text, &m.ImageURL, &m.AudioURL, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

func (s *Postgres) ListConversations(ctx context.Context, identity string) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations c
		 WHERE c.participant_a = $1 OR c.participant_b = $1
		 ORDER BY c.updated_at DESC`, identity)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	convs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Conversation, error) {
		c, err := scanConversation(row)
		if err != nil {
			return Conversation{}, err
		}
		return *c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan conversations: %w", err)
	}
	if convs == nil {
		convs = []Conversation{}
	}
	return convs, nil
}

func (s *Postgres) CreateNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, recipient_id, sender_id, type, content, related_id, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.RecipientID, n.SenderID, string(n.Type), n.Content, n.RelatedID, n.IsRead, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Postgres) ListNotifications(ctx context.Context, recipient string, limit int) ([]Notification, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, recipient_id, sender_id, type, content, related_id, is_read, created_at
		 FROM notifications WHERE recipient_id = $1
		 ORDER BY seq DESC LIMIT $2`, recipient, lim)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Notification, error) {
		var n Notification
		var typ string
		err := row.Scan(&n.ID, &n.RecipientID, &n.SenderID, &typ, &n.Content, &n.RelatedID, &n.IsRead, &n.CreatedAt)
		n.Type = NotificationType(typ)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan notifications: %w", err)
	}
	if out == nil {
		out = []Notification{}
	}
	return out, nil
}

func (s *Postgres) UnreadCount(ctx context.Context, recipient string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM notifications WHERE recipient_id = $1 AND NOT is_read`, recipient).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *Postgres) MarkRead(ctx context.Context, recipient, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET is_read = true WHERE id = $1 AND recipient_id = $2`, id, recipient)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) MarkAllRead(ctx context.Context, recipient string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET is_read = true WHERE recipient_id = $1 AND NOT is_read`, recipient)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
