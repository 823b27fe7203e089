package bitlog

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bitlog-dev/bitlog/internal/logging"
	"github.com/bitlog-dev/bitlog/internal/metadata"
	"github.com/bitlog-dev/bitlog/internal/queue"
	"github.com/bitlog-dev/bitlog/internal/shm"
)

// Statement is the backend-side view of one call-site catalog entry.
type Statement struct {
	ID       uint32
	File     string
	Line     uint32
	Function string
	Format   string
	Level    LogLevel
	Types    []TypeDescriptor
}

// LoggerInfo is the backend-side view of one logger catalog entry.
type LoggerInfo struct {
	ID   uint32
	Name string
}

// queueRef identifies one discovered queue by its file name parts.
type queueRef struct {
	thread uint32
	seq    uint32
}

// activeQueue is one open queue being drained, plus a one-record peek
// cache used for the timestamp ordering hint.
type activeQueue struct {
	q        *queue.Queue
	thread   uint32
	seq      uint32
	havePeek bool
	peek     recordHeader
	peekBuf  []byte
}

// instance is the backend's mirror of one frontend run: catalogs,
// discovered and active queues, and the instance liveness lock fd. The
// backend only ever observes producer state through the filesystem; it
// owns nothing until the producer is dead.
type instance struct {
	dir        string
	pid        string
	stmts      []Statement
	loggers    []LoggerInfo
	discovered []queueRef
	active     []*activeQueue
	appLockFd  int
	poisoned   bool
	log        *logging.Logger
	page       shm.PageKind
	metrics    *Metrics
}

func newInstance(dir string, page shm.PageKind, log *logging.Logger, metrics *Metrics) *instance {
	inst := &instance{dir: dir, appLockFd: -1, log: log, page: page, metrics: metrics}

	pid, stmts, err := metadata.ReadStatements(dir)
	if err != nil {
		// A catalog we cannot parse poisons the instance: records are
		// still drained but delivered raw, keyed by their ids.
		inst.log.WarnOnce(dir, "statement catalog unreadable; instance poisoned", "dir", dir, "error", err)
		inst.poisoned = true
		return inst
	}
	inst.pid = pid
	inst.stmts = make([]Statement, 0, len(stmts))
	for _, s := range stmts {
		types := make([]TypeDescriptor, len(s.TypeDescriptors))
		for i, d := range s.TypeDescriptors {
			types[i] = TypeDescriptor(d)
		}
		inst.stmts = append(inst.stmts, Statement{
			ID:       s.ID,
			File:     s.File,
			Line:     s.Line,
			Function: s.Function,
			Format:   s.Format,
			Level:    LogLevel(s.Level),
			Types:    types,
		})
	}
	inst.reloadLoggers()
	return inst
}

// reloadLoggers re-reads the logger catalog. The frontend appends to
// it for the process lifetime, so an unknown logger id in a record
// simply means the catalog has grown since the last read.
func (inst *instance) reloadLoggers() {
	loggers, err := metadata.ReadLoggers(inst.dir)
	if err != nil {
		inst.log.WarnOnce(filepath.Join(inst.dir, metadata.LoggersFilename),
			"logger catalog unreadable", "dir", inst.dir, "error", err)
		return
	}
	inst.loggers = inst.loggers[:0]
	for _, l := range loggers {
		inst.loggers = append(inst.loggers, LoggerInfo{ID: l.ID, Name: l.Name})
	}
}

func (inst *instance) resolveLogger(id uint32) *LoggerInfo {
	if id >= uint32(len(inst.loggers)) {
		inst.reloadLoggers()
	}
	if id >= uint32(len(inst.loggers)) {
		return nil
	}
	return &inst.loggers[id]
}

// queueStem returns the file stem for (thread, seq) in this instance.
func (inst *instance) queueStem(thread, seq uint32) string {
	return filepath.Join(inst.dir, strconv.FormatUint(uint64(thread), 10)+"."+strconv.FormatUint(uint64(seq), 10))
}

// discoverQueues rescans the instance directory for ready markers and
// rebuilds the sorted discovered set, opening an active queue for any
// thread that does not have one yet.
func (inst *instance) discoverQueues() {
	inst.discovered = inst.discovered[:0]

	entries, err := os.ReadDir(inst.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, queue.ExtReady) {
			continue
		}
		stem := strings.TrimSuffix(name, queue.ExtReady)
		dot := strings.IndexByte(stem, '.')
		if dot <= 0 {
			continue
		}
		thread, err1 := strconv.ParseUint(stem[:dot], 10, 32)
		seq, err2 := strconv.ParseUint(stem[dot+1:], 10, 32)
		if err1 != nil || err2 != nil {
			continue
		}
		inst.discovered = append(inst.discovered, queueRef{thread: uint32(thread), seq: uint32(seq)})
	}

	sort.Slice(inst.discovered, func(i, j int) bool {
		a, b := inst.discovered[i], inst.discovered[j]
		return a.thread < b.thread || (a.thread == b.thread && a.seq < b.seq)
	})

	lastThread := uint32(0)
	haveLast := false
	for _, ref := range inst.discovered {
		if haveLast && ref.thread == lastThread {
			// later rollovers of a thread already handled
			continue
		}
		lastThread, haveLast = ref.thread, true

		if inst.findActive(ref.thread) == nil {
			inst.openActive(ref.thread, ref.seq)
		}
	}
}

func (inst *instance) findActive(thread uint32) *activeQueue {
	for _, aq := range inst.active {
		if aq.thread == thread {
			return aq
		}
	}
	return nil
}

// openActive opens the queue (thread, seq) and inserts it into the
// active set in thread order.
func (inst *instance) openActive(thread, seq uint32) bool {
	stem := inst.queueStem(thread, seq)
	q, err := queue.Open(stem, inst.page)
	if err != nil {
		if err == queue.ErrCorrupt {
			// Unreadable queue state: one diagnostic, drop the files,
			// carry on with the other queues.
			inst.log.WarnOnce(stem, "queue unreadable; removing", "stem", stem, "error", err)
			_ = queue.RemoveFiles(stem)
		}
		return false
	}
	aq := &activeQueue{q: q, thread: thread, seq: seq}
	inst.active = append(inst.active, aq)
	sort.Slice(inst.active, func(i, j int) bool { return inst.active[i].thread < inst.active[j].thread })
	return true
}

// nextSeq finds the smallest discovered rollover after (thread, seq).
func (inst *instance) nextSeq(thread, seq uint32) (uint32, bool) {
	for _, ref := range inst.discovered {
		if ref.thread == thread && ref.seq > seq {
			return ref.seq, true
		}
	}
	return 0, false
}

// retireQueue closes aq and deletes its files.
func (inst *instance) retireQueue(aq *activeQueue, i int) {
	stem := inst.queueStem(aq.thread, aq.seq)
	_ = aq.q.Close()
	if err := queue.RemoveFiles(stem); err != nil {
		inst.log.Warn("queue file removal failed; will retry", "stem", stem, "error", err)
	} else {
		inst.log.Forget(stem)
	}
	inst.active = append(inst.active[:i], inst.active[i+1:]...)
	inst.metrics.QueuesRetired.Add(1)
}

// updateActiveQueues retires drained queues: a queue whose producer
// rolled over to a successor is replaced by it, and a queue whose
// producer died is removed once empty.
func (inst *instance) updateActiveQueues() {
	for i := 0; i < len(inst.active); {
		aq := inst.active[i]

		if !aq.q.Empty() {
			i++
			continue
		}

		if next, ok := inst.nextSeq(aq.thread, aq.seq); ok {
			thread := aq.thread
			inst.retireQueue(aq, i)
			if !inst.openActive(thread, next) {
				continue
			}
			i++
			continue
		}

		alive, err := aq.q.CreatorAlive()
		if err == nil && !alive {
			inst.retireQueue(aq, i)
			continue
		}
		i++
	}
}

// frontendDead reports whether the instance-level app.lock can be
// acquired, meaning the frontend process has exited.
func (inst *instance) frontendDead() bool {
	if inst.appLockFd < 0 {
		fd, err := unix.Open(filepath.Join(inst.dir, AppLockFilename), unix.O_RDWR, 0o660)
		if err != nil {
			// No lock file yet (or already cleaned): treat a missing
			// lock on an admitted instance as a dead frontend.
			return os.IsNotExist(err) || err == unix.ENOENT
		}
		inst.appLockFd = fd
	}
	ok, err := shm.TryLock(inst.appLockFd)
	if err != nil || !ok {
		return false
	}
	_ = shm.Unlock(inst.appLockFd)
	return true
}

// close releases all open queue mappings and the app lock fd without
// removing anything from disk.
func (inst *instance) close() {
	for _, aq := range inst.active {
		_ = aq.q.Close()
	}
	inst.active = nil
	if inst.appLockFd >= 0 {
		unix.Close(inst.appLockFd)
		inst.appLockFd = -1
	}
}

// remove deletes the entire instance directory after the frontend is
// confirmed dead and every queue is gone. It reports success so the
// backend can retry on the next pass otherwise.
func (inst *instance) remove() bool {
	inst.close()
	if err := os.RemoveAll(inst.dir); err != nil {
		inst.log.Warn("instance removal failed; will retry", "dir", inst.dir, "error", err)
		return false
	}
	inst.metrics.InstancesRetired.Add(1)
	inst.log.Forget(inst.dir)
	// Drop the application directory too when this was its last
	// instance; harmless if other instances remain.
	_ = unix.Rmdir(filepath.Dir(inst.dir))
	return true
}
