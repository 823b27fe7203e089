// Package bitlog is a low-latency, process-decoupled structured
// logging core. Frontends encode records into per-thread shared-memory
// queues; a backend in another process discovers the queues on disk,
// decodes the records through the self-describing catalogs, and hands
// them to a Handler.
package bitlog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/bytedance/gopkg/util/gopool"

	"github.com/bitlog-dev/bitlog/internal/logging"
	"github.com/bitlog-dev/bitlog/internal/shm"
)

// Handler consumes decoded records. Implementations format and sink
// them; the core only decodes. Calls arrive from the backend's drain
// goroutine(s); one instance's records always arrive from a single
// goroutine at a time.
type Handler interface {
	HandleRecord(stmt *Statement, logger *LoggerInfo, timestampNs uint64, args []Arg)
}

// RawHandler optionally receives undecodable records from poisoned
// instances (whose statement catalog could not be parsed) as raw bytes
// keyed by the ids in the record header.
type RawHandler interface {
	HandleRaw(callsiteID, loggerID uint32, timestampNs uint64, data []byte)
}

// BackendConfig carries the per-backend configuration.
type BackendConfig struct {
	// ApplicationID restricts the backend to one application's
	// instances. Empty drains every application under the root.
	ApplicationID string

	// ShmRootOverride replaces the /dev/shm, /tmp autodetection.
	ShmRootOverride string

	// MemoryPageSize must match the producers' page kind.
	MemoryPageSize shm.PageKind

	// PollInterval is the sleep between scan passes. Default 10ms.
	PollInterval time.Duration

	// DrainBatch bounds records consumed per queue per pass. Default 64.
	DrainBatch int

	// Concurrent drains each instance on a pooled worker instead of
	// inline on the polling goroutine.
	Concurrent bool
}

// Backend discovers application instances under the shared-memory
// root, drains their queues, and retires what their dead producers
// left behind.
type Backend struct {
	cfg       BackendConfig
	root      string
	handler   Handler
	raw       RawHandler
	instances map[string]*instance
	metrics   *Metrics
	log       *logging.Logger
}

// NewBackend resolves the shared-memory root and prepares an idle
// backend; Run or Poll does the work.
func NewBackend(cfg BackendConfig, handler Handler) (*Backend, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.DrainBatch <= 0 {
		cfg.DrainBatch = 64
	}
	root, err := shm.ResolveRoot(cfg.ShmRootOverride)
	if err != nil {
		return nil, NewPathError("INIT", cfg.ShmRootOverride, ErrCodePath, err)
	}
	b := &Backend{
		cfg:       cfg,
		root:      root,
		handler:   handler,
		instances: make(map[string]*instance),
		metrics:   NewMetrics(),
		log:       logging.Default(),
	}
	b.raw, _ = handler.(RawHandler)
	return b, nil
}

// Metrics returns the backend's counters.
func (b *Backend) Metrics() *Metrics { return b.metrics }

// Run polls until ctx is cancelled, then releases all mappings.
func (b *Backend) Run(ctx context.Context) error {
	defer b.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if b.Poll() == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.cfg.PollInterval):
			}
		}
	}
}

// Poll runs one full pass: admit new instances, drain every active
// queue, retire what is dead and drained. It returns the number of
// records consumed, so callers can sleep when the pass was idle.
func (b *Backend) Poll() int {
	b.admitInstances()

	type result struct {
		inst    *instance
		drained int
		remove  bool
	}
	results := make([]result, 0, len(b.instances))

	if b.cfg.Concurrent && len(b.instances) > 1 {
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, inst := range b.instances {
			inst := inst
			wg.Add(1)
			gopool.Go(func() {
				defer wg.Done()
				n, remove := b.pass(inst)
				mu.Lock()
				results = append(results, result{inst, n, remove})
				mu.Unlock()
			})
		}
		wg.Wait()
	} else {
		for _, inst := range b.instances {
			n, remove := b.pass(inst)
			results = append(results, result{inst, n, remove})
		}
	}

	total := 0
	for _, r := range results {
		total += r.drained
		if r.remove && r.inst.remove() {
			delete(b.instances, r.inst.dir)
		}
	}
	return total
}

// admitInstances scans <root>/<app>/<start_ts> for directories whose
// app.ready marker exists and constructs state for ones not seen yet.
// Directories still initializing are skipped until ready.
func (b *Backend) admitInstances() {
	apps, err := os.ReadDir(b.root)
	if err != nil {
		return
	}
	for _, app := range apps {
		if !app.IsDir() {
			continue
		}
		if b.cfg.ApplicationID != "" && app.Name() != b.cfg.ApplicationID {
			continue
		}
		appDir := filepath.Join(b.root, app.Name())
		runs, err := os.ReadDir(appDir)
		if err != nil {
			continue
		}
		for _, run := range runs {
			if !run.IsDir() {
				continue
			}
			dir := filepath.Join(appDir, run.Name())
			if _, seen := b.instances[dir]; seen {
				continue
			}
			if _, err := os.Stat(filepath.Join(dir, AppReadyFilename)); err != nil {
				continue
			}
			b.instances[dir] = newInstance(dir, b.cfg.MemoryPageSize, b.log, b.metrics)
			b.log.Info("instance admitted", "dir", dir, "pid", b.instances[dir].pid)
		}
	}
}

// pass runs one scan/drain/retire cycle on a single instance and
// reports whether the instance itself should be removed.
func (b *Backend) pass(inst *instance) (drained int, remove bool) {
	if _, err := os.Stat(inst.dir); err != nil {
		// Directory vanished underneath us; forget the instance.
		inst.close()
		return 0, true
	}

	inst.discoverQueues()
	drained = b.drain(inst)
	inst.updateActiveQueues()

	if len(inst.active) == 0 && len(inst.discovered) == 0 && inst.frontendDead() {
		return drained, true
	}
	return drained, false
}

// drain consumes records across the instance's active queues, always
// taking the queue whose next record carries the earliest timestamp
// among those that have not yet delivered DrainBatch records this pass.
// The hint keeps presentation roughly chronological; per-queue order
// is exact regardless.
func (b *Backend) drain(inst *instance) int {
	budget := b.cfg.DrainBatch * len(inst.active)
	consumed := 0
	taken := make(map[*activeQueue]int, len(inst.active))

	for consumed < budget {
		var pick *activeQueue
		for i := 0; i < len(inst.active); i++ {
			aq := inst.active[i]
			if taken[aq] >= b.cfg.DrainBatch {
				continue
			}
			ok, corrupt := aq.peekRecord()
			if corrupt {
				inst.log.WarnOnce(inst.queueStem(aq.thread, aq.seq),
					"corrupt record stream; retiring queue",
					"stem", inst.queueStem(aq.thread, aq.seq))
				inst.retireQueue(aq, i)
				i--
				continue
			}
			if !ok {
				continue
			}
			if pick == nil || aq.peek.timestamp < pick.peek.timestamp {
				pick = aq
			}
		}
		if pick == nil {
			break
		}
		b.deliver(inst, pick)
		taken[pick]++
		consumed++
	}
	return consumed
}

// peekRecord parses the next record header of the queue, caching it
// until the record is consumed. corrupt is reported when the header
// itself cannot be trusted, which poisons the whole queue.
func (aq *activeQueue) peekRecord() (ok, corrupt bool) {
	if aq.havePeek {
		return true, false
	}
	buf := aq.q.PrepareRead()
	if buf == nil {
		return false, false
	}
	hdr, ok := parseRecordHeader(buf)
	if !ok || hdr.total < recordHeaderSize || uint64(hdr.total) > uint64(len(buf)) {
		return false, true
	}
	aq.peek = hdr
	aq.peekBuf = buf[:hdr.total]
	aq.havePeek = true
	return true, false
}

// deliver decodes the peeked record and hands it to the handler, then
// consumes it from the queue. Records that fail to decode are counted
// and skipped using the header's total size.
func (b *Backend) deliver(inst *instance, aq *activeQueue) {
	hdr := aq.peek
	payload := aq.peekBuf[recordHeaderSize:]

	switch {
	case inst.poisoned:
		if b.raw != nil {
			// Hand the record out as bytes; the mapping is reused as
			// soon as the read finishes, so stage a copy.
			staged := mcache.Malloc(len(aq.peekBuf))
			copy(staged, aq.peekBuf)
			b.raw.HandleRaw(hdr.callsite, hdr.logger, hdr.timestamp, staged)
			mcache.Free(staged)
		}

	case hdr.callsite >= uint32(len(inst.stmts)):
		b.metrics.CorruptRecords.Add(1)

	default:
		stmt := &inst.stmts[hdr.callsite]
		args, err := decodeArgs(payload, stmt.Types)
		if err != nil {
			b.metrics.CorruptRecords.Add(1)
		} else {
			b.handler.HandleRecord(stmt, inst.resolveLogger(hdr.logger), hdr.timestamp, args)
			b.metrics.RecordsDelivered.Add(1)
		}
	}

	aq.q.FinishRead(uint64(hdr.total))
	aq.q.CommitRead()
	b.metrics.BytesDrained.Add(uint64(hdr.total))
	aq.havePeek = false
	aq.peekBuf = nil
}

// Close releases every instance's mappings without deleting anything;
// a restarted backend resumes from the positions persisted in the
// members files.
func (b *Backend) Close() {
	for _, inst := range b.instances {
		inst.close()
	}
	b.instances = make(map[string]*instance)
}
