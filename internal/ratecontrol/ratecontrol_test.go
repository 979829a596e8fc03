package ratecontrol

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseKnownProvider(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	release, err := Acquire(context.Background(), "llm")
	require.NoError(t, err)
	release()
	// Double release must be harmless.
	release()
}

func TestAcquireUnknownProviderGetsDefaultGate(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	release, err := Acquire(context.Background(), "somewhere-new")
	require.NoError(t, err)
	release()
}

func TestConcurrencyGateBlocks(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"providers:\n  tiny:\n    requests_per_second: 1000\n    burst: 1000\n    max_concurrent: 1\n",
	), 0o644))
	t.Setenv("PROSPECTOR_RATES_PATH", path)

	ctx := context.Background()
	release1, err := Acquire(ctx, "tiny")
	require.NoError(t, err)

	var inFlight int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		release2, err := Acquire(ctx, "tiny")
		assert.NoError(t, err)
		atomic.StoreInt32(&inFlight, 1)
		release2()
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&inFlight), "second acquire should block while slot is held")

	release1()
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&inFlight))
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"providers:\n  tiny:\n    requests_per_second: 1000\n    burst: 1000\n    max_concurrent: 1\n",
	), 0o644))
	t.Setenv("PROSPECTOR_RATES_PATH", path)

	release, err := Acquire(context.Background(), "tiny")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = Acquire(ctx, "tiny")
	assert.Error(t, err)
}
