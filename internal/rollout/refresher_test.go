package rollout

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewRefresher_Validation(t *testing.T) {
	src := SourceFunc(func(ctx context.Context) (Snapshot, error) { return NewSnapshot(nil), nil })

	_, err := NewRefresher(nil, src, RefresherConfig{}, nil)
	assert.Error(t, err)

	_, err = NewRefresher(NewPolicy(NewSnapshot(nil)), nil, RefresherConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoSource)

	_, err = NewRefresher(NewPolicy(NewSnapshot(nil)), src, RefresherConfig{Interval: -time.Second}, nil)
	assert.Error(t, err)
}

func TestRefresher_FailureKeepsPreviousSnapshot(t *testing.T) {
	var fail atomic.Bool
	src := SourceFunc(func(ctx context.Context) (Snapshot, error) {
		if fail.Load() {
			return Snapshot{}, errors.New("store unavailable")
		}
		return NewSnapshot(map[string]State{"getRecord": Percentage(30)}), nil
	})

	policy := NewPolicy(NewSnapshot(nil))
	r, err := NewRefresher(policy, src, RefresherConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, Percentage(30), policy.Get("getRecord"))
	okAt, lastErr := r.Status()
	assert.False(t, okAt.IsZero())
	assert.NoError(t, lastErr)

	fail.Store(true)
	err = r.Refresh(context.Background())
	require.Error(t, err)

	assert.Equal(t, Percentage(30), policy.Get("getRecord"), "previous snapshot stays in place")
	assert.Equal(t, uint64(1), policy.Version())
	_, lastErr = r.Status()
	assert.Error(t, lastErr)
}

func TestRefresher_RunTicks(t *testing.T) {
	var loads atomic.Int32
	src := SourceFunc(func(ctx context.Context) (Snapshot, error) {
		loads.Add(1)
		return NewSnapshot(map[string]State{"getRecord": On()}), nil
	})

	policy := NewPolicy(NewSnapshot(nil))
	r, err := NewRefresher(policy, src, RefresherConfig{Interval: 10 * time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return loads.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, On(), policy.Get("getRecord"))
}

func TestRefresher_RunSkipsLoadAfterInitialRefresh(t *testing.T) {
	var loads atomic.Int32
	src := SourceFunc(func(ctx context.Context) (Snapshot, error) {
		loads.Add(1)
		return NewSnapshot(map[string]State{"getRecord": On()}), nil
	})

	policy := NewPolicy(NewSnapshot(nil))
	r, err := NewRefresher(policy, src, RefresherConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, r.Refresh(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	assert.Equal(t, int32(1), loads.Load())
	assert.Equal(t, uint64(1), policy.Version())
}

func TestRefresher_RunRetriesFailedInitialRefresh(t *testing.T) {
	var loads atomic.Int32
	src := SourceFunc(func(ctx context.Context) (Snapshot, error) {
		if loads.Add(1) == 1 {
			return Snapshot{}, errors.New("store unavailable")
		}
		return NewSnapshot(map[string]State{"getRecord": On()}), nil
	})

	policy := NewPolicy(NewSnapshot(nil))
	r, err := NewRefresher(policy, src, RefresherConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Error(t, r.Refresh(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	assert.Equal(t, int32(2), loads.Load())
	assert.Equal(t, On(), policy.Get("getRecord"))
}

func TestRefresher_RunWatchesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("operations:\n  updateRecord: 10\n"), 0600))

	policy := NewPolicy(NewSnapshot(nil))
	r, err := NewRefresher(policy, NewFileSource(path), RefresherConfig{WatchPath: path}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		return policy.Get("updateRecord") == Percentage(10)
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("operations:\n  updateRecord: forced_legacy\n"), 0600))

	assert.Eventually(t, func() bool {
		return policy.Get("updateRecord") == ForcedLegacy()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRefresher_RunBadWatchPath(t *testing.T) {
	policy := NewPolicy(NewSnapshot(nil))
	src := SourceFunc(func(ctx context.Context) (Snapshot, error) { return NewSnapshot(nil), nil })
	r, err := NewRefresher(policy, src, RefresherConfig{
		WatchPath: filepath.Join(t.TempDir(), "missing", "rollout.yaml"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = r.Run(context.Background())
	assert.Error(t, err)
}
