package adapters

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/model"
)

type slowAdapter struct {
	name     string
	delay    time.Duration
	running  int32
	maxSeen  int32
}

func (a *slowAdapter) Name() string { return a.name }

func (a *slowAdapter) Execute(ctx context.Context, req model.ActionRequest) (AdapterResult, error) {
	n := atomic.AddInt32(&a.running, 1)
	for {
		cur := atomic.LoadInt32(&a.maxSeen)
		if n <= cur || atomic.CompareAndSwapInt32(&a.maxSeen, cur, n) {
			break
		}
	}
	time.Sleep(a.delay)
	atomic.AddInt32(&a.running, -1)
	return AdapterResult{Success: true}, nil
}

func TestTargetAdapterNameRoutesByPrefix(t *testing.T) {
	assert.Equal(t, "acp", TargetAdapterName("partner:refund"))
	assert.Equal(t, "bedrock", TargetAdapterName("bedrock:summarize"))
	assert.Equal(t, "vertex", TargetAdapterName("vertex:classify"))
	assert.Equal(t, "mcp", TargetAdapterName("filesystem:read"))
}

// P7: concurrent dispatches to the same adapter serialize; different
// adapters run concurrently.
func TestRegistryLockForSerializesSameAdapterOnly(t *testing.T) {
	registry := NewRegistry()
	same := &slowAdapter{name: "same", delay: 20 * time.Millisecond}
	other := &slowAdapter{name: "other", delay: 20 * time.Millisecond}
	registry.Register(same)
	registry.Register(other)

	req := model.ActionRequest{ToolName: "x", ToolAction: "y"}

	var wg sync.WaitGroup
	run := func(name string, a *slowAdapter) {
		defer wg.Done()
		lock := registry.LockFor(name)
		lock.Lock()
		defer lock.Unlock()
		_, _ = a.Execute(context.Background(), req)
	}

	wg.Add(4)
	go run("same", same)
	go run("same", same)
	go run("other", other)
	go run("other", other)
	wg.Wait()

	assert.Equal(t, int32(1), same.maxSeen, "same-adapter calls must never overlap")
	assert.Equal(t, int32(2), other.maxSeen, "different-adapter calls may overlap")
}

func TestRegistryLockForReturnsStableMutexPerName(t *testing.T) {
	registry := NewRegistry()
	a := registry.LockFor("mcp")
	b := registry.LockFor("mcp")
	assert.Same(t, a, b)
}

func TestRegistryGetUnknownAdapter(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Get("nope")
	require.Error(t, err)
}
