package bitlog

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Call sites used by the end-to-end tests, registered the way an
// application would: in package-level initializers, before any
// frontend exists.
var (
	e2eRound = RegisterCallsite("e2e/app.go", 11, "roundTrip", LevelInfo,
		"x={}, y={}", TypeInt, TypeDouble)
	e2eSeq = RegisterCallsite("e2e/app.go", 22, "worker", LevelDebug,
		"t={} i={}", TypeInt, TypeUnsignedInt)
	e2ePayload = RegisterCallsite("e2e/app.go", 33, "worker", LevelInfo,
		"t={} i={} s={}", TypeInt, TypeUnsignedInt, TypeStdString)
)

func newPair(t *testing.T, cfg Config, backendCfg BackendConfig) (*Frontend, *Backend, *CollectHandler) {
	t.Helper()
	root := t.TempDir()
	cfg.ShmRootOverride = root
	if cfg.ApplicationID == "" {
		cfg.ApplicationID = "e2e"
	}

	fe, err := NewFrontend(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { fe.Close() })

	handler := NewCollectHandler()
	backendCfg.ShmRootOverride = root
	be, err := NewBackend(backendCfg, handler)
	require.NoError(t, err)
	t.Cleanup(be.Close)

	return fe, be, handler
}

func drainUntil(t *testing.T, be *Backend, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		be.Poll()
		return cond()
	}, 10*time.Second, time.Millisecond)
}

func TestSingleRecordRoundTrip(t *testing.T) {
	fe, be, handler := newPair(t,
		Config{QueueCapacityBytes: 4096, QueuePolicy: BoundedBlocking},
		BackendConfig{})

	lg, err := fe.Logger("main")
	require.NoError(t, err)

	tc, err := fe.Context()
	require.NoError(t, err)

	require.NoError(t, tc.Log(e2eRound, lg, Int(42), Float64(3.14)))

	drainUntil(t, be, func() bool { return handler.Len() == 1 })

	rec := handler.Records()[0]
	assert.Equal(t, e2eRound.ID(), rec.Stmt.ID)
	assert.Equal(t, "x={}, y={}", rec.Stmt.Format)
	assert.Equal(t, LevelInfo, rec.Stmt.Level)
	assert.Equal(t, "e2e/app.go", rec.Stmt.File)
	require.NotNil(t, rec.Logger)
	assert.Equal(t, "main", rec.Logger.Name)
	assert.NotZero(t, rec.TimestampNs)

	require.Len(t, rec.Args, 2)
	assert.Equal(t, int64(42), rec.Args[0].Int64())
	assert.Equal(t, 3.14, rec.Args[1].Float())
}

func TestWraparoundUnderLoad(t *testing.T) {
	const batches = 20
	const perBatch = 8192
	const total = batches * perBatch

	fe, be, handler := newPair(t,
		Config{QueueCapacityBytes: 131072, QueuePolicy: BoundedBlocking},
		BackendConfig{DrainBatch: 4096})

	lg, err := fe.Logger("load")
	require.NoError(t, err)

	go func() {
		tc, err := fe.Context()
		if err != nil {
			return
		}
		for b := 0; b < batches; b++ {
			for i := uint32(0); i < perBatch; i++ {
				tc.Log(e2eSeq, lg, Int(0), Uint(i))
			}
		}
	}()

	drainUntil(t, be, func() bool { return handler.Len() == total })

	records := handler.Records()
	for n, rec := range records {
		want := uint64(n % perBatch)
		require.Equal(t, want, rec.Args[1].Uint64(), "record %d", n)
	}
}

func TestTwoThreadFIFO(t *testing.T) {
	const perThread = 10000

	fe, be, handler := newPair(t,
		Config{QueuePolicy: BoundedBlocking},
		BackendConfig{DrainBatch: 2048})

	lg, err := fe.Logger("fifo")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for id := int32(0); id < 2; id++ {
		wg.Add(1)
		go func(id int32) {
			defer wg.Done()
			tc, err := fe.Context()
			if err != nil {
				return
			}
			for i := uint32(0); i < perThread; i++ {
				tc.Log(e2eSeq, lg, Int(id), Uint(i))
			}
		}(id)
	}

	// Drain while the producers run: 10000 records per thread do not fit
	// one default-capacity queue, so BoundedBlocking producers only
	// finish once the backend frees space.
	drainUntil(t, be, func() bool { return handler.Len() == 2*perThread })
	wg.Wait()

	next := map[int64]uint64{}
	for n, rec := range handler.Records() {
		id := rec.Args[0].Int64()
		seq := rec.Args[1].Uint64()
		require.Equal(t, next[id], seq, "record %d: thread %d out of order", n, id)
		next[id] = seq + 1
	}
	assert.Equal(t, uint64(perThread), next[0])
	assert.Equal(t, uint64(perThread), next[1])
}

func TestBoundedDroppingPolicy(t *testing.T) {
	const total = 10000

	fe, be, handler := newPair(t,
		Config{QueueCapacityBytes: 4096, QueuePolicy: BoundedDropping},
		BackendConfig{DrainBatch: 16})

	lg, err := fe.Logger("drop")
	require.NoError(t, err)

	tc, err := fe.Context()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint32(0); i < total; i++ {
			tc.Log(e2ePayload, lg, Int(0), Uint(i), Str("0123456789abcdef"))
		}
	}()

	// A deliberately slow consumer forces drops.
	for {
		select {
		case <-done:
			goto produced
		default:
			be.Poll()
			time.Sleep(time.Millisecond)
		}
	}
produced:

	drainUntil(t, be, func() bool {
		return uint64(handler.Len())+tc.Dropped() >= total && fe.Metrics().RecordsWritten.Load()+tc.Dropped() == total
	})

	delivered := handler.Records()
	assert.Equal(t, uint64(total), uint64(len(delivered))+tc.Dropped())
	assert.NotZero(t, tc.Dropped(), "consumer was slow enough that drops must occur")

	var last int64 = -1
	for n, rec := range delivered {
		seq := int64(rec.Args[1].Uint64())
		require.Greater(t, seq, last, "record %d", n)
		last = seq
	}
}

func TestUnboundedRollover(t *testing.T) {
	const total = 4096

	fe, be, handler := newPair(t,
		Config{QueueCapacityBytes: 4096, QueuePolicy: UnboundedNoLimit},
		BackendConfig{DrainBatch: 512})

	lg, err := fe.Logger("roll")
	require.NoError(t, err)

	tc, err := fe.Context()
	require.NoError(t, err)

	// ~64 byte records against a 4096-byte ring guarantee rollover.
	for i := uint32(0); i < total; i++ {
		require.NoError(t, tc.Log(e2ePayload, lg, Int(0), Uint(i), Str("abcdefghijklmnopqrstuvwxyz012345")))
	}
	require.NotZero(t, fe.Metrics().Rollovers.Load())

	drainUntil(t, be, func() bool { return handler.Len() == total })

	for n, rec := range handler.Records() {
		require.Equal(t, uint64(n), rec.Args[1].Uint64(), "record %d", n)
	}

	// Once the producer exits, everything is reclaimed.
	instanceDir := fe.InstanceDir()
	fe.Close()
	drainUntil(t, be, func() bool {
		_, err := os.Stat(instanceDir)
		return os.IsNotExist(err)
	})
	assert.NotZero(t, be.Metrics().QueuesRetired.Load())
	assert.Equal(t, uint64(1), be.Metrics().InstancesRetired.Load())
}

func TestProducerDeathMidStream(t *testing.T) {
	const total = 100

	fe, be, handler := newPair(t,
		Config{QueuePolicy: BoundedBlocking},
		BackendConfig{})

	lg, err := fe.Logger("death")
	require.NoError(t, err)

	tc, err := fe.Context()
	require.NoError(t, err)
	for i := uint32(0); i < total; i++ {
		tc.Log(e2eSeq, lg, Int(0), Uint(i))
	}

	instanceDir := fe.InstanceDir()
	// Closing the frontend releases every liveness lock, which is what
	// process death looks like to the backend.
	fe.Close()

	drainUntil(t, be, func() bool {
		_, err := os.Stat(instanceDir)
		return os.IsNotExist(err)
	})

	require.Equal(t, total, handler.Len(), "committed records survive producer death")
	assert.Equal(t, uint64(1), be.Metrics().InstancesRetired.Load())
}

func TestBackendRestartResumes(t *testing.T) {
	const total = 1000

	root := t.TempDir()
	fe, err := NewFrontend(Config{
		ApplicationID:   "restart",
		ShmRootOverride: root,
		QueuePolicy:     BoundedBlocking,
	})
	require.NoError(t, err)
	defer fe.Close()

	lg, err := fe.Logger("restart")
	require.NoError(t, err)
	tc, err := fe.Context()
	require.NoError(t, err)
	for i := uint32(0); i < total; i++ {
		tc.Log(e2eSeq, lg, Int(0), Uint(i))
	}

	h1 := NewCollectHandler()
	b1, err := NewBackend(BackendConfig{ShmRootOverride: root, DrainBatch: 64}, h1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b1.Poll()
		return h1.Len() >= total/4
	}, 10*time.Second, time.Millisecond)
	// Kill the first backend mid-drain.
	b1.Close()
	firstCount := h1.Len()
	require.Less(t, firstCount, total)

	h2 := NewCollectHandler()
	b2, err := NewBackend(BackendConfig{ShmRootOverride: root, DrainBatch: 64}, h2)
	require.NoError(t, err)
	defer b2.Close()

	drainUntil(t, b2, func() bool { return firstCount+h2.Len() == total })

	seen := make(map[uint64]int, total)
	for _, rec := range h1.Records() {
		seen[rec.Args[1].Uint64()]++
	}
	for _, rec := range h2.Records() {
		seen[rec.Args[1].Uint64()]++
	}
	require.Len(t, seen, total)
	for seq, count := range seen {
		require.Equal(t, 1, count, "sequence %d duplicated", seq)
	}
}

func TestPoisonedInstanceDeliversRaw(t *testing.T) {
	root := t.TempDir()
	fe, err := NewFrontend(Config{
		ApplicationID:   "poison",
		ShmRootOverride: root,
		QueuePolicy:     BoundedBlocking,
	})
	require.NoError(t, err)
	defer fe.Close()

	lg, err := fe.Logger("poison")
	require.NoError(t, err)
	tc, err := fe.Context()
	require.NoError(t, err)
	for i := uint32(0); i < 3; i++ {
		tc.Log(e2eSeq, lg, Int(0), Uint(i))
	}

	// Wreck the statement catalog before the backend ever sees the
	// instance: non-contiguous ids are a parse error.
	broken := "process_id: 1\nlog_statements:\n  - id: 5\n    file: x\n    log_level: 4\n"
	require.NoError(t, os.WriteFile(fe.InstanceDir()+"/"+"log-statements-metadata.yaml", []byte(broken), 0o660))

	handler := NewCollectHandler()
	be, err := NewBackend(BackendConfig{ShmRootOverride: root}, handler)
	require.NoError(t, err)
	defer be.Close()

	require.Eventually(t, func() bool {
		be.Poll()
		return len(handler.Raw()) == 3
	}, 10*time.Second, time.Millisecond)

	raw := handler.Raw()
	assert.Equal(t, e2eSeq.ID(), raw[0].CallsiteID)
	assert.Equal(t, lg.ID(), raw[0].LoggerID)
	assert.NotEmpty(t, raw[0].Data)
	assert.Zero(t, handler.Len(), "poisoned instances never decode")
}

func TestConcurrentBackendPool(t *testing.T) {
	root := t.TempDir()

	handler := NewCollectHandler()
	be, err := NewBackend(BackendConfig{ShmRootOverride: root, Concurrent: true, DrainBatch: 1024}, handler)
	require.NoError(t, err)
	defer be.Close()

	const apps = 3
	const perApp = 500
	for a := 0; a < apps; a++ {
		fe, err := NewFrontend(Config{
			ApplicationID:   "pool-" + string(rune('a'+a)),
			ShmRootOverride: root,
			QueuePolicy:     BoundedBlocking,
		})
		require.NoError(t, err)
		defer fe.Close()

		lg, err := fe.Logger("pool")
		require.NoError(t, err)
		tc, err := fe.Context()
		require.NoError(t, err)
		for i := uint32(0); i < perApp; i++ {
			tc.Log(e2eSeq, lg, Int(int32(a)), Uint(i))
		}
	}

	drainUntil(t, be, func() bool { return handler.Len() == apps*perApp })

	perInstance := map[int64]uint64{}
	for _, rec := range handler.Records() {
		id := rec.Args[0].Int64()
		seq := rec.Args[1].Uint64()
		require.Equal(t, perInstance[id], seq)
		perInstance[id] = seq + 1
	}
}
