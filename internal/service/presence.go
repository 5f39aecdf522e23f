package service

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/legalforum/chatsync/internal/model"
	"github.com/legalforum/chatsync/pkg/logger"
)

// PresenceService tracks which users sent a heartbeat within the TTL.
type PresenceService struct {
	users  *UserDirectory
	ttl    time.Duration
	now    func() time.Time
	logger *logger.Logger

	mu       sync.RWMutex
	lastSeen map[int64]time.Time
}

// NewPresenceService creates a presence service.
func NewPresenceService(users *UserDirectory, ttl time.Duration, log *logger.Logger) *PresenceService {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &PresenceService{
		users:    users,
		ttl:      ttl,
		now:      time.Now,
		logger:   log,
		lastSeen: make(map[int64]time.Time),
	}
}

// Heartbeat marks userID as online now.
func (s *PresenceService) Heartbeat(userID int64) {
	s.mu.Lock()
	s.lastSeen[userID] = s.now()
	s.mu.Unlock()
}

// HandleHeartbeat decodes a heartbeat payload received on the transport.
func (s *PresenceService) HandleHeartbeat(payload []byte) {
	var hb model.PresenceHeartbeat
	if err := json.Unmarshal(payload, &hb); err != nil || hb.UserID <= 0 {
		s.logger.Warn("dropping invalid heartbeat", zap.Error(err))
		return
	}
	s.Heartbeat(hb.UserID)
}

// IsOnline reports whether userID sent a heartbeat within the TTL.
func (s *PresenceService) IsOnline(userID int64) bool {
	s.mu.RLock()
	seen, ok := s.lastSeen[userID]
	s.mu.RUnlock()
	return ok && s.now().Sub(seen) <= s.ttl
}

// OnlineUsers lists every known user with its online flag, split by role.
func (s *PresenceService) OnlineUsers() *model.OnlineUsers {
	out := &model.OnlineUsers{
		Users:   []model.UserPresence{},
		Lawyers: []model.UserPresence{},
	}
	for _, u := range s.users.All() {
		p := model.UserPresence{UserID: u.ID, Online: s.IsOnline(u.ID)}
		if u.Role == model.RoleLawyer {
			out.Lawyers = append(out.Lawyers, p)
		} else {
			out.Users = append(out.Users, p)
		}
	}
	return out
}

// Prune forgets heartbeats older than the TTL and returns how many were dropped.
func (s *PresenceService) Prune() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for id, seen := range s.lastSeen {
		if seen.Before(cutoff) {
			delete(s.lastSeen, id)
			dropped++
		}
	}
	return dropped
}
