package resourcekit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ChangeToken signals that something a watcher is interested in changed.
// Tokens are single use: once HasChanged reports true it stays true and a
// new token has to be requested.
type ChangeToken interface {
	HasChanged() bool

	// RegisterChangeCallback registers fn to run when the token fires.
	// The returned function removes the registration.
	RegisterChangeCallback(fn func()) (unregister func())
}

// callbackList is the registration bookkeeping shared by the tokens below.
type callbackList struct {
	mu        sync.Mutex
	changed   atomic.Bool
	callbacks map[int]func()
	next      int
}

func (l *callbackList) HasChanged() bool {
	return l.changed.Load()
}

func (l *callbackList) RegisterChangeCallback(fn func()) func() {
	l.mu.Lock()
	if l.callbacks == nil {
		l.callbacks = make(map[int]func())
	}
	id := l.next
	l.next++
	l.callbacks[id] = fn
	l.mu.Unlock()

	if l.changed.Load() {
		fn()
	}
	return func() {
		l.mu.Lock()
		delete(l.callbacks, id)
		l.mu.Unlock()
	}
}

func (l *callbackList) fire() {
	if l.changed.Swap(true) {
		return
	}
	l.mu.Lock()
	fns := make([]func(), 0, len(l.callbacks))
	for _, fn := range l.callbacks {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// CallbackChangeToken is fired explicitly by the backend that produced it.
// Used by backends with native change events (local, memory).
type CallbackChangeToken struct {
	callbackList
}

// NewCallbackChangeToken creates a token the caller fires with SignalChange.
func NewCallbackChangeToken() *CallbackChangeToken {
	return &CallbackChangeToken{}
}

// SignalChange marks the token as changed and invokes all callbacks once.
func (t *CallbackChangeToken) SignalChange() {
	t.fire()
}

// PollingChangeToken fires when a periodic check reports a change.
// The polling goroutine ends when the token fires, when Stop is called or
// when the context passed to NewPollingChangeToken is done.
type PollingChangeToken struct {
	callbackList
	cancel context.CancelFunc
}

// NewPollingChangeToken starts polling check every interval (5s when zero).
func NewPollingChangeToken(ctx context.Context, interval time.Duration, check func(context.Context) bool) *PollingChangeToken {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &PollingChangeToken{cancel: cancel}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if check(ctx) {
					t.fire()
					return
				}
			}
		}
	}()
	return t
}

// Stop ends polling. It is safe to call Stop multiple times.
func (t *PollingChangeToken) Stop() {
	t.cancel()
}

// NeverChangeToken never fires.
type NeverChangeToken struct{}

func (NeverChangeToken) HasChanged() bool                    { return false }
func (NeverChangeToken) RegisterChangeCallback(func()) func() { return func() {} }

var (
	_ ChangeToken = (*CallbackChangeToken)(nil)
	_ ChangeToken = (*PollingChangeToken)(nil)
	_ ChangeToken = NeverChangeToken{}
)
