package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/legalforum/chatsync/internal/model"
	"github.com/legalforum/chatsync/pkg/logger"
	"github.com/legalforum/chatsync/pkg/metrics"
)

const (
	// DefaultPresenceMinInterval is the minimum time between presence checks.
	DefaultPresenceMinInterval = 2 * time.Second

	// DefaultPresenceRefreshInterval is the background refresh period while a conversation is open.
	DefaultPresenceRefreshInterval = 30 * time.Second
)

// PresenceSource fetches a full presence listing.
type PresenceSource interface {
	GetOnlineUsers(ctx context.Context) (*model.OnlineUsers, error)
}

// ConnectionState reports transport connectivity.
type ConnectionState interface {
	IsConnected() bool
}

// PresenceConfig configures a PresenceTracker. Zero values select the defaults.
type PresenceConfig struct {
	MinInterval     time.Duration
	RefreshInterval time.Duration
	Now             func() time.Time
}

// PresenceTracker answers whether a user is online from the last full
// snapshot, polling at most once per MinInterval.
//
// There is no "unknown" answer: before the first successful poll every user
// is reported offline.
type PresenceTracker struct {
	source      PresenceSource
	conn        ConnectionState
	minInterval time.Duration
	refresh     time.Duration
	now         func() time.Time
	logger      *logger.Logger

	// limiter throttles attempts, including failed ones.
	limiter *rate.Limiter

	mu          sync.RWMutex
	snapshot    *model.PresenceSnapshot
	lastSuccess time.Time
	polling     bool
	onUpdate    func(*model.PresenceSnapshot)
}

// NewPresenceTracker creates a tracker.
func NewPresenceTracker(source PresenceSource, conn ConnectionState, cfg PresenceConfig, log *logger.Logger) *PresenceTracker {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultPresenceMinInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultPresenceRefreshInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &PresenceTracker{
		source:      source,
		conn:        conn,
		minInterval: cfg.MinInterval,
		refresh:     cfg.RefreshInterval,
		now:         cfg.Now,
		logger:      log,
		limiter:     rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
	}
}

// OnUpdate registers fn to be called after every successful poll.
func (t *PresenceTracker) OnUpdate(fn func(*model.PresenceSnapshot)) {
	t.mu.Lock()
	t.onUpdate = fn
	t.mu.Unlock()
}

// Poll fetches a fresh snapshot unless offline, throttled, or already polling.
// It reports whether the snapshot was replaced. On failure the previous
// snapshot stays in place.
func (t *PresenceTracker) Poll(ctx context.Context) (bool, error) {
	if !t.conn.IsConnected() {
		metrics.RecordPresencePoll("offline")
		return false, nil
	}

	now := t.now()

	t.mu.Lock()
	if t.polling || (!t.lastSuccess.IsZero() && now.Sub(t.lastSuccess) < t.minInterval) || !t.limiter.AllowN(now, 1) {
		t.mu.Unlock()
		metrics.RecordPresencePoll("throttled")
		return false, nil
	}
	t.polling = true
	t.mu.Unlock()

	users, err := t.source.GetOnlineUsers(ctx)

	t.mu.Lock()
	t.polling = false
	if err != nil {
		t.mu.Unlock()
		metrics.RecordPresencePoll("error")
		return false, fmt.Errorf("failed to poll presence: %w", err)
	}
	snapshot := model.NewPresenceSnapshot(now, users)
	t.snapshot = snapshot
	t.lastSuccess = now
	onUpdate := t.onUpdate
	t.mu.Unlock()

	metrics.RecordPresencePoll("success")
	if onUpdate != nil {
		onUpdate(snapshot)
	}
	return true, nil
}

// IsOnline reports whether userID was online in the last snapshot.
func (t *PresenceTracker) IsOnline(userID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot.Contains(userID)
}

// Snapshot returns the last snapshot, or nil before the first successful poll.
func (t *PresenceTracker) Snapshot() *model.PresenceSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot
}

// Run polls immediately and then every RefreshInterval until ctx is done.
func (t *PresenceTracker) Run(ctx context.Context) {
	t.pollAndLog(ctx)

	ticker := time.NewTicker(t.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pollAndLog(ctx)
		}
	}
}

func (t *PresenceTracker) pollAndLog(ctx context.Context) {
	if _, err := t.Poll(ctx); err != nil && ctx.Err() == nil {
		t.logger.Warn("presence poll failed", zap.Error(err))
	}
}
