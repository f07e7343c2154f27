// Package hooks provides an event bus for catch-up lifecycle events.
// Pre-events run synchronously and may veto the operation; post-events
// may run asynchronously at the listener's choice.
package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// EventType defines the type of a hook event.
type EventType string

const (
	// EventPreBucketApply fires before a bucket's applicator is
	// created for a level. Listeners may veto the apply.
	EventPreBucketApply EventType = "PreBucketApply"
	// EventPostBucketApply fires after a bucket replacement is
	// committed into a level.
	EventPostBucketApply EventType = "PostBucketApply"
	// EventPostLevelCommit fires after a whole level finishes.
	EventPostLevelCommit EventType = "PostLevelCommit"
	// EventPostHeadInstall fires after the target state is installed
	// as the bucket list's new head.
	EventPostHeadInstall EventType = "PostHeadInstall"
)

// HookEvent is the interface all event objects implement.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// BucketApplyPayload describes one bucket replacement at one level.
type BucketApplyPayload struct {
	Level   int
	Kind    string // "curr" or "snap"
	HashHex string
	Entries int
}

// NewPreBucketApplyEvent creates an event fired before a bucket apply
// begins.
func NewPreBucketApplyEvent(payload BucketApplyPayload) HookEvent {
	return &BaseEvent{eventType: EventPreBucketApply, payload: payload}
}

// NewPostBucketApplyEvent creates an event fired after a bucket
// replacement is committed.
func NewPostBucketApplyEvent(payload BucketApplyPayload) HookEvent {
	return &BaseEvent{eventType: EventPostBucketApply, payload: payload}
}

// LevelCommitPayload describes a completed level.
type LevelCommitPayload struct {
	Level        int
	Replacements int
}

// NewPostLevelCommitEvent creates an event fired after a level commit.
func NewPostLevelCommitEvent(payload LevelCommitPayload) HookEvent {
	return &BaseEvent{eventType: EventPostLevelCommit, payload: payload}
}

// HeadInstallPayload describes a completed catch-up run.
type HeadInstallPayload struct {
	CurrentLedger uint32
	NumLevels     int
}

// NewPostHeadInstallEvent creates an event fired after head
// installation.
func NewPostHeadInstallEvent(payload HeadInstallPayload) HookEvent {
	return &BaseEvent{eventType: EventPostHeadInstall, payload: payload}
}

// HookListener receives events.
type HookListener interface {
	OnEvent(ctx context.Context, event HookEvent) error
	// Priority orders listeners for one event type, lowest first.
	Priority() int
	// IsAsync lets a post-event listener run on its own goroutine.
	IsAsync() bool
}

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	Register(eventType EventType, listener HookListener)
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete.
	Stop()
}

type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) *DefaultHookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

var _ HookManager = (*DefaultHookManager)(nil)

// Register adds a listener for an event type, keeping the slice sorted
// by priority.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{listener: listener, priority: listener.Priority()}
	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority >= item.priority
	})
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item
	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for an event in priority
// order. A Pre-event listener error cancels the operation; Post-event
// listener errors are logged and swallowed.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners := m.listeners[event.Type()]
	m.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")
	for _, item := range listeners {
		if isPreHook || !item.listener.IsAsync() {
			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w",
						event.Type(), item.priority, err)
				}
				m.logger.Error("post-hook listener failed",
					"event", event.Type(), "priority", item.priority, "error", err)
			}
			continue
		}
		m.wg.Add(1)
		go func(current *listenerWithPriority) {
			defer m.wg.Done()
			if err := current.listener.OnEvent(ctx, event); err != nil {
				m.logger.Error("async post-hook listener failed",
					"event", event.Type(), "priority", current.priority, "error", err)
			}
		}(item)
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
