package forward

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinRegistryPinsOnce(t *testing.T) {
	transport := newFakeTransport()
	store := newMemPinStore()
	reg := NewPinRegistry(store, transport)
	ctx := context.Background()

	assert.True(t, reg.EnsurePinned(ctx, -100, 5, 11))
	assert.False(t, reg.EnsurePinned(ctx, -100, 5, 12))

	rec, found, err := store.Find(ctx, -100, 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 11, rec.MessageID)
	assert.True(t, rec.Pinned)
	assert.Len(t, transport.callsOf("pin"), 1)
}

func TestPinRegistryExistingRecordIsAuthoritative(t *testing.T) {
	transport := newFakeTransport()
	store := newMemPinStore()
	ctx := context.Background()

	// 另一个实例已经置顶过
	first := NewPinRegistry(store, transport)
	require.True(t, first.EnsurePinned(ctx, -100, 5, 11))

	second := NewPinRegistry(store, transport)
	assert.False(t, second.EnsurePinned(ctx, -100, 5, 99))
	assert.Len(t, transport.callsOf("pin"), 1)
}

func TestPinRegistryFailureSwallowed(t *testing.T) {
	transport := newFakeTransport()
	transport.pinErr = errors.New("not enough rights to pin a message")
	store := newMemPinStore()
	reg := NewPinRegistry(store, transport)
	ctx := context.Background()

	assert.False(t, reg.EnsurePinned(ctx, -100, 5, 11))
	_, found, _ := store.Find(ctx, -100, 5)
	assert.False(t, found)

	// 权限修复后下一条候选消息仍可置顶
	transport.pinErr = nil
	assert.True(t, reg.EnsurePinned(ctx, -100, 5, 12))
	rec, _, _ := store.Find(ctx, -100, 5)
	assert.Equal(t, 12, rec.MessageID)
}

func TestPinRegistryConcurrent(t *testing.T) {
	transport := newFakeTransport()
	store := newMemPinStore()
	reg := NewPinRegistry(store, transport)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(candidate int) {
			defer wg.Done()
			if reg.EnsurePinned(context.Background(), -100, 5, candidate) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(100 + i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Len(t, transport.callsOf("pin"), 1)
	assert.Len(t, store.records, 1)
}
