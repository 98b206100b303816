package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smashlab/coachchat/internal/domain"
)

const sessionPrefix = "chatbot:session:"

// SessionStore keeps chat sessions in Redis under
// chatbot:session:<user_id>:<context_type> with a sliding TTL refreshed on
// every save.
//
// Every operation fails soft: backend errors degrade to absent/false with a
// logged warning, never an error to the caller. A session silently vanishing
// at TTL expiry is an expected outcome, not a failure.
type SessionStore struct {
	client *Client
	ttl    time.Duration
}

// NewSessionStore creates a session store with the given sliding TTL.
func NewSessionStore(client *Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) key(userID, contextType string) string {
	return fmt.Sprintf("%s%s:%s", sessionPrefix, userID, contextType)
}

// Get returns the stored session, or nil on miss, expiry, or backend failure.
func (s *SessionStore) Get(ctx context.Context, userID, contextType string) *domain.ChatSession {
	key := s.key(userID, contextType)

	data, err := s.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !isNil(err) {
			log.Warn().Err(err).Str("key", key).Msg("session get failed")
		}
		return nil
	}

	var session domain.ChatSession
	if err := json.Unmarshal(data, &session); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("session record corrupt, treating as absent")
		return nil
	}
	return &session
}

// Save serializes the full session and resets its expiry window. Returns
// false on any failure.
func (s *SessionStore) Save(ctx context.Context, session *domain.ChatSession) bool {
	key := s.key(session.UserID, session.ContextType)
	session.UpdatedAt = time.Now()

	data, err := json.Marshal(session)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("session marshal failed")
		return false
	}

	if err := s.client.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("session save failed")
		return false
	}

	log.Debug().Str("key", key).Int("messages", len(session.Messages)).Msg("session saved")
	return true
}

// Create unconditionally creates a fresh session at the key, overwriting any
// existing record, and persists it.
func (s *SessionStore) Create(ctx context.Context, userID, contextType, skillName string, extra map[string]any) *domain.ChatSession {
	now := time.Now()
	session := &domain.ChatSession{
		SessionID:   fmt.Sprintf("%s:%s:%s", userID, contextType, now.Format("20060102150405")),
		UserID:      userID,
		ContextType: contextType,
		SkillName:   skillName,
		Context:     map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	session.MergeContext(extra)

	log.Info().Str("session_id", session.SessionID).Msg("session created")
	s.Save(ctx, session)
	return session
}

// GetOrCreate returns the existing session, shallow-merging any new context
// keys, or creates one when none exists. It always returns a usable session
// even when the backend is down (the in-memory object simply won't persist).
func (s *SessionStore) GetOrCreate(ctx context.Context, userID, contextType, skillName string, extra map[string]any) *domain.ChatSession {
	if session := s.Get(ctx, userID, contextType); session != nil {
		if len(extra) > 0 {
			session.MergeContext(extra)
			s.Save(ctx, session)
		}
		return session
	}
	return s.Create(ctx, userID, contextType, skillName, extra)
}

// Delete removes the session; reports whether a record existed.
func (s *SessionStore) Delete(ctx context.Context, userID, contextType string) bool {
	key := s.key(userID, contextType)

	deleted, err := s.client.rdb.Del(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("session delete failed")
		return false
	}
	return deleted > 0
}

// ClearMessages truncates the message history while keeping the session and
// its context. Returns false when no session exists.
func (s *SessionStore) ClearMessages(ctx context.Context, userID, contextType string) bool {
	session := s.Get(ctx, userID, contextType)
	if session == nil {
		return false
	}
	session.Messages = nil
	log.Info().Str("user_id", userID).Str("context_type", contextType).Msg("session messages cleared")
	return s.Save(ctx, session)
}

// Ping probes the backend; never fails, only reports false.
func (s *SessionStore) Ping(ctx context.Context) bool {
	if err := s.client.rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis ping failed")
		return false
	}
	return true
}
