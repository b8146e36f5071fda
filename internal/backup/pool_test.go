package backup

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// countingRunner tracks how many of its kind execute at the same moment.
type countingRunner struct {
	wg      *sync.WaitGroup
	active  *atomic.Int32
	maxSeen *atomic.Int32
	ran     atomic.Bool
}

func (r *countingRunner) Run() {
	defer r.wg.Done()

	now := r.active.Add(1)
	for {
		seen := r.maxSeen.Load()
		if now <= seen || r.maxSeen.CompareAndSwap(seen, now) {
			break
		}
	}

	time.Sleep(50 * time.Millisecond)

	r.active.Add(-1)
	r.ran.Store(true)
}

// Expectation: With a bound of two, four submitted runners all complete
// but never more than two run simultaneously.
func Test_Unit_Pool_BoundsConcurrency_Success(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	var active, maxSeen atomic.Int32

	pool := NewPool(testLogger(), 2)

	runners := make([]*countingRunner, 4)
	for i := range runners {
		runners[i] = &countingRunner{wg: &wg, active: &active, maxSeen: &maxSeen}
		wg.Add(1)
		require.True(t, pool.Submit(runners[i]))
	}

	wg.Wait()
	pool.Shutdown()

	require.LessOrEqual(t, maxSeen.Load(), int32(2))
	for _, r := range runners {
		require.True(t, r.ran.Load())
	}
}

// Expectation: Submission is refused once the pool is shutting down.
func Test_Unit_Pool_SubmitAfterShutdown_Refused_Success(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	var active, maxSeen atomic.Int32

	pool := NewPool(testLogger(), 1)
	pool.Shutdown()

	r := &countingRunner{wg: &wg, active: &active, maxSeen: &maxSeen}
	require.False(t, pool.Submit(r))
	require.False(t, r.ran.Load())
}

// Expectation: Shutdown blocks until running work has completed.
func Test_Unit_Pool_Shutdown_JoinsRunning_Success(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	var active, maxSeen atomic.Int32

	pool := NewPool(testLogger(), 2)

	r := &countingRunner{wg: &wg, active: &active, maxSeen: &maxSeen}
	wg.Add(1)
	require.True(t, pool.Submit(r))

	// Give the scheduler a few ticks to start the runner.
	time.Sleep(200 * time.Millisecond)

	pool.Shutdown()
	require.True(t, r.ran.Load())
}

// Expectation: Four pooled drivers over disjoint sources all complete and
// every source tree ends up mirrored.
func Test_Integ_PoolDrivers_FourSources_AllComplete_Success(t *testing.T) {
	t.Parallel()

	fs := setupTestFs()
	sources := []string{"/s1", "/s2", "/s3", "/s4"}
	for _, src := range sources {
		require.NoError(t, createFiles(fs, map[string]string{
			src + "/file.txt":       "content of " + src,
			src + "/sub/nested.txt": "nested",
		}))
	}
	require.NoError(t, createDirStructure(fs, []string{"/d1"}))

	observer := make(chan Message, 1024)
	pool := NewPool(testLogger(), 2)

	for i, src := range sources {
		name := []string{"001", "002", "003", "004"}[i]
		d := NewDriver(fs, testLogger(), src, []string{"/d1"}, observer, DriverOptions{DestName: name})
		require.True(t, pool.Submit(d))
	}

	finished := 0
	for finished < len(sources) {
		msg := <-observer
		if e, ok := msg.(ErrorMessage); ok {
			t.Fatalf("unexpected backup error: %v", e.Err)
		}
		if _, ok := msg.(Finished); ok {
			finished++
		}
	}
	pool.Shutdown()

	for i, src := range sources {
		name := []string{"001", "002", "003", "004"}[i]

		content, err := afero.ReadFile(fs, "/d1/"+name+"/file.txt")
		require.NoError(t, err)
		require.Equal(t, "content of "+src, string(content))

		content, err = afero.ReadFile(fs, "/d1/"+name+"/sub/nested.txt")
		require.NoError(t, err)
		require.Equal(t, "nested", string(content))
	}
}

// Expectation: A bound below one is raised to one instead of deadlocking.
func Test_Unit_Pool_InvalidBound_RaisedToOne_Success(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	var active, maxSeen atomic.Int32

	pool := NewPool(testLogger(), 0)

	r := &countingRunner{wg: &wg, active: &active, maxSeen: &maxSeen}
	wg.Add(1)
	require.True(t, pool.Submit(r))

	wg.Wait()
	pool.Shutdown()

	require.Equal(t, int32(1), maxSeen.Load())
}
