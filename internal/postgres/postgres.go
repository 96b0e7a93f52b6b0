package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func New(ctx context.Context, dsn string, maxConns int32, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err = pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.With(sl.Module("postgres")),
	}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) UpsertChat(ctx context.Context, phone, instance string, at time.Time) (*entity.ChatSession, error) {
	fresh := entity.NewChatSession(phone, instance, at)
	row := s.pool.QueryRow(ctx, `
		INSERT INTO chats (id, phone, instance, created_at, last_interacted_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (phone, instance) DO UPDATE
		SET last_interacted_at = GREATEST(chats.last_interacted_at, EXCLUDED.last_interacted_at)
		RETURNING id, phone, instance, created_at, last_interacted_at`,
		fresh.ID, phone, instance, at)

	var chat entity.ChatSession
	if err := row.Scan(&chat.ID, &chat.Phone, &chat.Instance, &chat.CreatedAt, &chat.LastInteractedAt); err != nil {
		return nil, fmt.Errorf("upsert chat: %w", err)
	}
	return &chat, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*entity.ChatSession, error) {
	var chat entity.ChatSession
	err := s.pool.QueryRow(ctx,
		`SELECT id, phone, instance, created_at, last_interacted_at FROM chats WHERE id = $1`, id,
	).Scan(&chat.ID, &chat.Phone, &chat.Instance, &chat.CreatedAt, &chat.LastInteractedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &chat, nil
}

// AppendMessage reports false when a message with the same dedup key
// already exists in the chat.
func (s *Store) AppendMessage(ctx context.Context, msg *entity.ChatMessage) (bool, error) {
	var link *string
	if msg.ContentLink != "" {
		link = &msg.ContentLink
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO chats_messages (id, chat_id, dedup_key, direction, who_sent, type, content, content_link, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (chat_id, dedup_key) DO NOTHING`,
		msg.ID, msg.ChatID, msg.DedupKey, msg.Direction, msg.Sender, msg.Type, msg.Content, link, msg.SentAt, msg.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const messageColumns = `id, chat_id, dedup_key, direction, who_sent, type, content, COALESCE(content_link, ''), sent_at, created_at`

// ListMessages returns the last limit messages of a chat, oldest first.
func (s *Store) ListMessages(ctx context.Context, chatID string, limit int) ([]entity.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT * FROM chats_messages
			WHERE chat_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq ASC`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return collectMessages(rows)
}

func (s *Store) LastMessageBy(ctx context.Context, chatID, sender string) (*entity.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM chats_messages
		WHERE chat_id = $1 AND who_sent = $2 ORDER BY seq DESC LIMIT 1`, chatID, sender)
	if err != nil {
		return nil, fmt.Errorf("last message: %w", err)
	}
	messages, err := collectMessages(rows)
	if err != nil || len(messages) == 0 {
		return nil, err
	}
	return &messages[0], nil
}

func (s *Store) GetMessageByKey(ctx context.Context, chatID, dedupKey string) (*entity.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM chats_messages
		WHERE chat_id = $1 AND dedup_key = $2`, chatID, dedupKey)
	if err != nil {
		return nil, fmt.Errorf("message by key: %w", err)
	}
	messages, err := collectMessages(rows)
	if err != nil || len(messages) == 0 {
		return nil, err
	}
	return &messages[0], nil
}

func collectMessages(rows pgx.Rows) ([]entity.ChatMessage, error) {
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.ChatMessage, error) {
		var m entity.ChatMessage
		err := row.Scan(&m.ID, &m.ChatID, &m.DedupKey, &m.Direction, &m.Sender, &m.Type, &m.Content, &m.ContentLink, &m.SentAt, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return messages, nil
}

const leadColumns = `id, chat_id, name, phone, COALESCE(email, ''), COALESCE(city, ''), COALESCE(product_interest, ''),
	COALESCE(budget_range, ''), COALESCE(preferred_contact_time, ''), COALESCE(notes, ''), created_at`

func (s *Store) GetLeadByChat(ctx context.Context, chatID string) (*entity.CustomerLead, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+leadColumns+` FROM customer_leads WHERE chat_id = $1`, chatID)
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	leads, err := collectLeads(rows)
	if err != nil || len(leads) == 0 {
		return nil, err
	}
	return &leads[0], nil
}

// CreateLead reports false when the chat already has a lead.
func (s *Store) CreateLead(ctx context.Context, lead *entity.CustomerLead) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO customer_leads (id, chat_id, name, phone, email, city, product_interest, budget_range, preferred_contact_time, notes, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11)
		ON CONFLICT (chat_id) DO NOTHING`,
		lead.ID, lead.ChatID, lead.Name, lead.Phone, lead.Email, lead.City, lead.ProductInterest,
		lead.BudgetRange, lead.PreferredContactTime, lead.Notes, lead.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert lead: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListLeads(ctx context.Context, limit, offset int) ([]entity.CustomerLead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM customer_leads ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return collectLeads(rows)
}

func collectLeads(rows pgx.Rows) ([]entity.CustomerLead, error) {
	leads, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.CustomerLead, error) {
		var l entity.CustomerLead
		err := row.Scan(&l.ID, &l.ChatID, &l.Name, &l.Phone, &l.Email, &l.City, &l.ProductInterest,
			&l.BudgetRange, &l.PreferredContactTime, &l.Notes, &l.CreatedAt)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan leads: %w", err)
	}
	return leads, nil
}
