// Package coalesce batches rapid edits into one commit after a quiet period.
//
// A Coalescer is either idle or pending with a quiet deadline. Edit stores the
// latest (title, content) and pushes the deadline out; when the deadline
// passes, or on Flush/Close, the pending pair is committed once and the
// Coalescer returns to idle.
package coalesce

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"colladoc/pkg/logger"
)

const DefaultQuiet = 1500 * time.Millisecond

// CommitFunc persists one coalesced edit.
type CommitFunc func(ctx context.Context, title string, content json.RawMessage) error

type Coalescer struct {
	quiet         time.Duration
	commitTimeout time.Duration
	commit        CommitFunc
	onError       func(error)

	// commitMu is held across take-and-commit so commits leave in edit order.
	commitMu sync.Mutex

	mu      sync.Mutex
	pending bool
	title   string
	content json.RawMessage
	timer   *time.Timer
	gen     uint64
	closed  bool
}

// New returns an idle Coalescer. onError, if set, receives failures of
// timer-driven commits; those edits are dropped, not retried.
func New(quiet time.Duration, commit CommitFunc, onError func(error)) *Coalescer {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	return &Coalescer{
		quiet:         quiet,
		commitTimeout: 10 * time.Second,
		commit:        commit,
		onError:       onError,
	}
}

// Edit records the latest state and restarts the quiet timer. It reports
// false once the Coalescer is closed.
func (c *Coalescer) Edit(title string, content json.RawMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.title, c.content = title, content
	c.pending = true
	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.quiet, func() { c.fire(gen) })
	return true
}

// isPending reports whether an edit is waiting for its quiet deadline.
func (c *Coalescer) isPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Flush commits the pending edit now. It is a no-op when idle.
func (c *Coalescer) Flush(ctx context.Context) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	title, content, ok := c.take(0)
	if !ok {
		return nil
	}
	return c.commit(ctx, title, content)
}

// Close stops the timer and flushes whatever is pending. Later edits are ignored.
func (c *Coalescer) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()
	return c.Flush(ctx)
}

func (c *Coalescer) fire(gen uint64) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	title, content, ok := c.take(gen)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.commitTimeout)
	defer cancel()
	if err := c.commit(ctx, title, content); err != nil {
		logger.Sugar.Warnf("Coalesced commit failed: %v", err)
		if c.onError != nil {
			c.onError(err)
		}
	}
}

// take moves the pending edit out and goes idle. A non-zero gen must match
// the latest edit, so a superseded timer does nothing.
func (c *Coalescer) take(gen uint64) (string, json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending || (gen != 0 && gen != c.gen) {
		return "", nil, false
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = false
	title, content := c.title, c.content
	c.title, c.content = "", nil
	return title, content, true
}
