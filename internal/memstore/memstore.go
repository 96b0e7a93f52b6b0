// Package memstore keeps sessions, messages and leads in process memory.
// It backs local runs and tests and follows the unique keys of the
// persistent stores.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/matheus-giordani/emme7-bot/entity"
)

type Store struct {
	mu       sync.RWMutex
	chats    map[string]*entity.ChatSession
	byKey    map[string]string
	messages map[string][]entity.ChatMessage
	dedup    map[string]bool
	leads    map[string]*entity.CustomerLead

	// FailAppend, when set, is returned by AppendMessage.
	FailAppend error
	// FailLead, when set, is returned by CreateLead.
	FailLead error
}

func New() *Store {
	return &Store{
		chats:    make(map[string]*entity.ChatSession),
		byKey:    make(map[string]string),
		messages: make(map[string][]entity.ChatMessage),
		dedup:    make(map[string]bool),
		leads:    make(map[string]*entity.CustomerLead),
	}
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) UpsertChat(_ context.Context, phone, instance string, at time.Time) (*entity.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entity.ConversationKey(phone, instance)
	if id, ok := s.byKey[key]; ok {
		chat := s.chats[id]
		if at.After(chat.LastInteractedAt) {
			chat.LastInteractedAt = at
		}
		c := *chat
		return &c, nil
	}
	chat := entity.NewChatSession(phone, instance, at)
	s.chats[chat.ID] = chat
	s.byKey[key] = chat.ID
	c := *chat
	return &c, nil
}

func (s *Store) GetChat(_ context.Context, id string) (*entity.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, nil
	}
	c := *chat
	return &c, nil
}

func (s *Store) AppendMessage(_ context.Context, msg *entity.ChatMessage) (bool, error) {
	if s.FailAppend != nil {
		return false, s.FailAppend
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := msg.ChatID + "|" + msg.DedupKey
	if s.dedup[key] {
		return false, nil
	}
	s.dedup[key] = true
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], *msg)
	return true, nil
}

func (s *Store) ListMessages(_ context.Context, chatID string, limit int) ([]entity.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[chatID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]entity.ChatMessage, len(all))
	copy(out, all)
	return out, nil
}

func (s *Store) LastMessageBy(_ context.Context, chatID, sender string) (*entity.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[chatID]
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Sender == sender {
			m := all[i]
			return &m, nil
		}
	}
	return nil, nil
}

func (s *Store) GetMessageByKey(_ context.Context, chatID, dedupKey string) (*entity.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[chatID] {
		if m.DedupKey == dedupKey {
			return &m, nil
		}
	}
	return nil, nil
}

func (s *Store) GetLeadByChat(_ context.Context, chatID string) (*entity.CustomerLead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[chatID]
	if !ok {
		return nil, nil
	}
	l := *lead
	return &l, nil
}

func (s *Store) CreateLead(_ context.Context, lead *entity.CustomerLead) (bool, error) {
	if s.FailLead != nil {
		return false, s.FailLead
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[lead.ChatID]; ok {
		return false, nil
	}
	l := *lead
	s.leads[lead.ChatID] = &l
	return true, nil
}

func (s *Store) ListLeads(_ context.Context, limit, offset int) ([]entity.CustomerLead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	leads := make([]entity.CustomerLead, 0, len(s.leads))
	for _, l := range s.leads {
		leads = append(leads, *l)
	}
	sort.Slice(leads, func(i, j int) bool {
		return leads[i].CreatedAt.After(leads[j].CreatedAt)
	})
	if offset >= len(leads) {
		return []entity.CustomerLead{}, nil
	}
	leads = leads[offset:]
	if limit > 0 && len(leads) > limit {
		leads = leads[:limit]
	}
	return leads, nil
}

// MessageCount is the number of stored messages for a chat.
func (s *Store) MessageCount(chatID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[chatID])
}

// LeadCount is the number of stored leads.
func (s *Store) LeadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leads)
}
