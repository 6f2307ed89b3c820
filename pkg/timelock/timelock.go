// Package timelock — delayed execution queue for sensitive admin actions.
//
// Admin changes, parameter changes and upgrades are queued with a per-type
// minimum delay and become executable only after it elapses. Anyone may
// execute a ripe action; only the admin may queue or cancel.
package timelock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/commitlabs/core/pkg/commitment"
	"github.com/google/uuid"
)

// MaxDelay caps every queued delay regardless of action type.
const MaxDelay = 30 * 24 * time.Hour

// Event topics emitted by the queue.
const (
	TopicQueued    = "Queued"
	TopicExecuted  = "Executed"
	TopicCancelled = "Cancelled"
)

var (
	ErrUnauthorized     = errors.New("timelock: admin required")
	ErrActionNotFound   = errors.New("timelock: action not found")
	ErrAlreadyExecuted  = errors.New("timelock: action already executed")
	ErrAlreadyCancelled = errors.New("timelock: action already cancelled")
	ErrDelayNotMet      = errors.New("timelock: delay has not elapsed")
	ErrDelayTooShort    = errors.New("timelock: delay below the action type minimum")
	ErrDelayTooLong     = errors.New("timelock: delay above the maximum")
)

// ActionType classifies queued actions; each type carries its own minimum
// delay.
type ActionType uint8

const (
	ActionAdminChange ActionType = iota
	ActionParameterChange
	ActionUpgrade
	ActionFeeChange
)

// String implements fmt.Stringer with the wire tags.
func (t ActionType) String() string {
	switch t {
	case ActionAdminChange:
		return "admin_change"
	case ActionParameterChange:
		return "parameter_change"
	case ActionUpgrade:
		return "upgrade"
	case ActionFeeChange:
		return "fee_change"
	default:
		return fmt.Sprintf("action(%d)", uint8(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t ActionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ActionType) UnmarshalText(b []byte) error {
	parsed, err := ParseActionType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseActionType maps a wire tag to the closed enum.
func ParseActionType(s string) (ActionType, error) {
	switch s {
	case "admin_change":
		return ActionAdminChange, nil
	case "parameter_change":
		return ActionParameterChange, nil
	case "upgrade":
		return ActionUpgrade, nil
	case "fee_change":
		return ActionFeeChange, nil
	default:
		return 0, fmt.Errorf("unknown action type %q", s)
	}
}

// MinDelay returns the minimum queueing delay for the action type.
func (t ActionType) MinDelay() time.Duration {
	switch t {
	case ActionAdminChange:
		return 48 * time.Hour
	case ActionUpgrade:
		return 72 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Action is one queued entry.
type Action struct {
	ID           uint64     `json:"id"`
	Type         ActionType `json:"action_type"`
	Target       string     `json:"target"`
	Data         string     `json:"data"`
	QueuedAt     time.Time  `json:"queued_at"`
	ExecutableAt time.Time  `json:"executable_at"`
	Executed     bool       `json:"executed"`
	Cancelled    bool       `json:"cancelled"`
}

// Config wires a queue instance.
type Config struct {
	Admin    string
	Notifier commitment.Notifier
	Logger   *slog.Logger
}

// Queue holds pending actions. Action ids are monotonic and never reused.
type Queue struct {
	mu      sync.RWMutex
	actions map[uint64]*Action
	order   []uint64
	nextID  uint64

	admin    string
	notifier commitment.Notifier
	clock    func() time.Time
	log      *slog.Logger
}

// NewQueue constructs an empty queue.
func NewQueue(cfg Config) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = commitment.NewSlogNotifier(logger)
	}
	return &Queue{
		actions:  make(map[uint64]*Action),
		admin:    cfg.Admin,
		notifier: notifier,
		clock:    time.Now,
		log:      logger.With("component", "timelock"),
	}
}

// WithClock overrides clock for testing.
func (q *Queue) WithClock(clock func() time.Time) *Queue {
	q.clock = clock
	return q
}

// Queue adds an action. The delay must be at least the action type minimum
// and at most MaxDelay. Admin only. Returns the action id.
func (q *Queue) Queue(ctx context.Context, caller string, actionType ActionType, target, data string, delay time.Duration) (uint64, error) {
	if caller != q.admin {
		return 0, ErrUnauthorized
	}
	if delay < actionType.MinDelay() {
		return 0, fmt.Errorf("%w: %s requires at least %s", ErrDelayTooShort, actionType, actionType.MinDelay())
	}
	if delay > MaxDelay {
		return 0, fmt.Errorf("%w: maximum is %s", ErrDelayTooLong, MaxDelay)
	}

	now := q.clock()
	q.mu.Lock()
	q.nextID++
	id := q.nextID
	action := &Action{
		ID:           id,
		Type:         actionType,
		Target:       target,
		Data:         data,
		QueuedAt:     now,
		ExecutableAt: now.Add(delay),
	}
	q.actions[id] = action
	q.order = append(q.order, id)
	q.mu.Unlock()

	q.emit(ctx, TopicQueued, id, map[string]string{
		"action_type":   actionType.String(),
		"target":        target,
		"executable_at": action.ExecutableAt.UTC().Format(time.RFC3339),
	})
	return id, nil
}

// Execute marks a ripe action executed. Callable by anyone.
func (q *Queue) Execute(ctx context.Context, id uint64) error {
	now := q.clock()

	q.mu.Lock()
	action, ok := q.actions[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrActionNotFound, id)
	}
	if action.Executed {
		q.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrAlreadyExecuted, id)
	}
	if action.Cancelled {
		q.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrAlreadyCancelled, id)
	}
	if now.Before(action.ExecutableAt) {
		q.mu.Unlock()
		return fmt.Errorf("%w: %d executable at %s", ErrDelayNotMet, id, action.ExecutableAt.UTC().Format(time.RFC3339))
	}
	action.Executed = true
	actionType, target := action.Type, action.Target
	q.mu.Unlock()

	q.emit(ctx, TopicExecuted, id, map[string]string{
		"action_type": actionType.String(),
		"target":      target,
	})
	return nil
}

// Cancel withdraws a pending action. Admin only; executed actions cannot be
// cancelled.
func (q *Queue) Cancel(ctx context.Context, caller string, id uint64) error {
	if caller != q.admin {
		return ErrUnauthorized
	}

	q.mu.Lock()
	action, ok := q.actions[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrActionNotFound, id)
	}
	if action.Executed {
		q.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrAlreadyExecuted, id)
	}
	if action.Cancelled {
		q.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrAlreadyCancelled, id)
	}
	action.Cancelled = true
	actionType, target := action.Type, action.Target
	q.mu.Unlock()

	q.emit(ctx, TopicCancelled, id, map[string]string{
		"action_type": actionType.String(),
		"target":      target,
	})
	return nil
}

// Get returns a copy of the action record.
func (q *Queue) Get(id uint64) (Action, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	action, ok := q.actions[id]
	if !ok {
		return Action{}, fmt.Errorf("%w: %d", ErrActionNotFound, id)
	}
	return *action, nil
}

// All lists a copy of every queued action in queueing order.
func (q *Queue) All() []Action {
	q.mu.RLock()
	defer q.mu.RUnlock()
	actions := make([]Action, 0, len(q.order))
	for _, id := range q.order {
		actions = append(actions, *q.actions[id])
	}
	return actions
}

// Pending lists actions that are neither executed nor cancelled.
func (q *Queue) Pending() []Action {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var pending []Action
	for _, id := range q.order {
		if a := q.actions[id]; !a.Executed && !a.Cancelled {
			pending = append(pending, *a)
		}
	}
	return pending
}

// Executable lists pending actions whose delay has elapsed.
func (q *Queue) Executable() []Action {
	now := q.clock()
	q.mu.RLock()
	defer q.mu.RUnlock()
	var ripe []Action
	for _, id := range q.order {
		a := q.actions[id]
		if !a.Executed && !a.Cancelled && !now.Before(a.ExecutableAt) {
			ripe = append(ripe, *a)
		}
	}
	return ripe
}

// Count returns the total number of actions ever queued.
func (q *Queue) Count() uint64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.nextID
}

func (q *Queue) emit(ctx context.Context, topic string, id uint64, data map[string]string) {
	q.notifier.Emit(ctx, commitment.Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		Timestamp: q.clock(),
		Data:      mergeID(data, id),
	})
}

func mergeID(data map[string]string, id uint64) map[string]string {
	if data == nil {
		data = make(map[string]string, 1)
	}
	data["action_id"] = fmt.Sprint(id)
	return data
}
