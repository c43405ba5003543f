// Package cache stores scripted tool-call answers between the turn that
// issues a simulated tool call and the follow-up turn that returns its result.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/yungtweek/chunkback/internal/logger"
)

// DefaultTTL bounds how long a scripted answer waits for its follow-up turn.
const DefaultTTL = 5 * time.Minute

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("cache: store closed")

// Store is a key/value backend with per-key expiry. All operations are safe
// for concurrent use and atomic per key. Unknown keys are not an error: Get
// reports absence and Delete is a no-op. A ttl <= 0 never expires.
type Store interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Correlations maps minted tool call ids to scripted answers.
type Correlations struct {
	store Store
	ttl   time.Duration
}

// NewCorrelations wraps store. A ttl <= 0 uses DefaultTTL.
func NewCorrelations(store Store, ttl time.Duration) *Correlations {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Correlations{store: store, ttl: ttl}
}

// Remember stores answer under callID for the configured TTL.
func (c *Correlations) Remember(ctx context.Context, callID, answer string) error {
	if err := c.store.Put(ctx, callID, answer, c.ttl); err != nil {
		logger.Log.Warnw("[cache][Remember] put failed", "callId", callID, "err", err)
		return err
	}
	logger.Log.Debugw("[cache][Remember] stored", "callId", callID, "ttl", c.ttl)
	return nil
}

// Recall returns the answer stored for callID. Backend failures are logged
// and reported as a miss so callers fall back to normal prompt handling.
func (c *Correlations) Recall(ctx context.Context, callID string) (string, bool) {
	if callID == "" {
		return "", false
	}
	v, ok, err := c.store.Get(ctx, callID)
	if err != nil {
		logger.Log.Warnw("[cache][Recall] get failed", "callId", callID, "err", err)
		return "", false
	}
	logger.Log.Debugw("[cache][Recall] lookup", "callId", callID, "hit", ok)
	return v, ok
}

// Forget removes callID.
func (c *Correlations) Forget(ctx context.Context, callID string) error {
	return c.store.Delete(ctx, callID)
}

// Close releases the underlying store.
func (c *Correlations) Close() error {
	return c.store.Close()
}
