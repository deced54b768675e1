package eventhandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turing-shop/turing-ledger/internal/domain/shared"
)

type recordingCache struct {
	mu       sync.Mutex
	students []string
	groups   []string
	err      error
}

func (c *recordingCache) InvalidateStudent(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.students = append(c.students, id)
	return c.err
}

func (c *recordingCache) InvalidateGroup(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups = append(c.groups, id)
	return c.err
}

// subscriberFunc records subscriptions.
type subscriberFunc map[shared.EventType]shared.EventHandler

func (s subscriberFunc) Subscribe(t shared.EventType, h shared.EventHandler) error {
	s[t] = h
	return nil
}

func (s subscriberFunc) SubscribeAll(shared.EventHandler) error { return nil }

// untypedEvent mimics an event decoded from another instance.
type untypedEvent struct {
	typ     shared.EventType
	payload map[string]interface{}
}

func (e untypedEvent) EventType() shared.EventType     { return e.typ }
func (e untypedEvent) OccurredAt() time.Time           { return time.Time{} }
func (e untypedEvent) AggregateID() string             { return "" }
func (e untypedEvent) Payload() map[string]interface{} { return e.payload }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestInvalidateCacheHandler_Register(t *testing.T) {
	sub := subscriberFunc{}
	h := NewInvalidateCacheHandler(&recordingCache{}, quiet, 0)
	require.NoError(t, h.Register(sub))
	assert.Len(t, sub, 3)
}

func TestInvalidateCacheHandler_Purchase(t *testing.T) {
	cache := &recordingCache{}
	h := NewInvalidateCacheHandler(cache, quiet, 0)

	require.NoError(t, h.Handle(shared.NewPurchaseCompletedEvent("t1", "s1", "g1", "p1", 1, -10, 0, 0)))
	assert.Equal(t, []string{"s1"}, cache.students)
	assert.Equal(t, []string{"g1"}, cache.groups)
}

func TestInvalidateCacheHandler_RewardWithoutGroup(t *testing.T) {
	cache := &recordingCache{}
	h := NewInvalidateCacheHandler(cache, quiet, 0)

	require.NoError(t, h.Handle(shared.NewRewardRecordedEvent("t1", "s1", "", "a1", 5, 5)))
	assert.Equal(t, []string{"s1"}, cache.students)
	assert.Empty(t, cache.groups)
}

func TestInvalidateCacheHandler_Deactivation(t *testing.T) {
	cache := &recordingCache{}
	h := NewInvalidateCacheHandler(cache, quiet, 0)

	require.NoError(t, h.Handle(shared.NewGroupDeactivatedEvent("g1", []string{"s1", "s2"}, time.Now(), false)))
	assert.Equal(t, []string{"s1", "s2"}, cache.students)
	assert.Equal(t, []string{"g1"}, cache.groups)

	// Remote events carry decoded JSON arrays.
	cache = &recordingCache{}
	h = NewInvalidateCacheHandler(cache, quiet, 0)
	require.NoError(t, h.Handle(untypedEvent{
		typ:     shared.EventGroupDeactivated,
		payload: map[string]interface{}{"group_id": "g2", "member_ids": []interface{}{"s3"}},
	}))
	assert.Equal(t, []string{"s3"}, cache.students)
	assert.Equal(t, []string{"g2"}, cache.groups)
}

func TestInvalidateCacheHandler_ReportsFailure(t *testing.T) {
	cache := &recordingCache{err: errors.New("redis down")}
	h := NewInvalidateCacheHandler(cache, quiet, 0)

	err := h.Handle(shared.NewPurchaseCompletedEvent("t1", "s1", "g1", "p1", 1, -10, 0, 0))
	assert.ErrorContains(t, err, "redis down")
	// The group is still attempted.
	assert.Equal(t, []string{"g1"}, cache.groups)
}
