package model

import (
	"time"
)

// UserPresence is a single entry of the online users listing.
type UserPresence struct {
	UserID int64 `json:"userId"`
	Online bool  `json:"online"`
}

// OnlineUsers is the presence listing returned by the backend.
type OnlineUsers struct {
	Users   []UserPresence `json:"users"`
	Lawyers []UserPresence `json:"lawyers"`
}

// PresenceHeartbeat is published by clients to announce they are online.
type PresenceHeartbeat struct {
	UserID int64 `json:"userId"`
}

// PresenceSnapshot is a point-in-time record of which users are online.
type PresenceSnapshot struct {
	AsOf   time.Time
	Online map[int64]struct{}
}

// NewPresenceSnapshot builds a snapshot from an online users listing.
func NewPresenceSnapshot(asOf time.Time, users *OnlineUsers) *PresenceSnapshot {
	s := &PresenceSnapshot{
		AsOf:   asOf,
		Online: make(map[int64]struct{}),
	}
	if users == nil {
		return s
	}
	for _, list := range [][]UserPresence{users.Users, users.Lawyers} {
		for _, u := range list {
			if u.Online {
				s.Online[u.UserID] = struct{}{}
			}
		}
	}
	return s
}

// Contains reports whether the user was online when the snapshot was taken.
func (s *PresenceSnapshot) Contains(userID int64) bool {
	if s == nil {
		return false
	}
	_, ok := s.Online[userID]
	return ok
}
