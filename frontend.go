package bitlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"golang.org/x/sys/unix"

	"github.com/bitlog-dev/bitlog/internal/metadata"
	"github.com/bitlog-dev/bitlog/internal/shm"
)

// Instance-level marker and lock filenames inside an instance
// directory.
const (
	AppReadyFilename = "app.ready"
	AppLockFilename  = "app.lock"
)

// Frontend is one running application instance. Creating it claims an
// instance directory under the shared-memory root, serializes the
// call-site catalog, and takes the instance liveness lock. Producer
// goroutines then obtain ThreadContexts from it and log through those.
type Frontend struct {
	cfg         Config
	root        string
	instanceDir string
	startTs     int64
	appLockFd   int
	metrics     *Metrics

	threadSeq atomix.Uint64
	loggerSeq atomix.Uint64

	mu       sync.Mutex
	contexts []*ThreadContext
	closed   bool
}

// NewFrontend initializes the instance: resolves the shared-memory
// root, creates <root>/<application_id>/<start_ts_ns>/, writes both
// catalogs, takes app.lock, and finally creates app.ready. Callers
// must register every call site before this point (package-level
// registration guarantees it); a catalog that cannot be serialized is
// fatal for the instance and reported as an error.
func NewFrontend(cfg Config) (*Frontend, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	root, err := shm.ResolveRoot(cfg.ShmRootOverride)
	if err != nil {
		return nil, NewPathError("INIT", cfg.ShmRootOverride, ErrCodePath, err)
	}

	startTs := time.Now().UnixNano()
	instanceDir := filepath.Join(root, cfg.ApplicationID, strconv.FormatInt(startTs, 10))

	if _, err := os.Stat(instanceDir); err == nil {
		return nil, NewPathError("INIT", instanceDir, ErrCodeAlreadyExists, nil)
	}
	if err := os.MkdirAll(instanceDir, 0o770); err != nil {
		return nil, NewPathError("INIT", instanceDir, ErrCodeIo, err)
	}

	fe := &Frontend{
		cfg:         cfg,
		root:        root,
		instanceDir: instanceDir,
		startTs:     startTs,
		appLockFd:   -1,
		metrics:     NewMetrics(),
	}

	stmts := make([]metadata.Statement, 0, 64)
	for _, cs := range snapshotCallsites() {
		descs := make([]uint8, len(cs.types))
		for i, t := range cs.types {
			descs[i] = uint8(t)
		}
		stmts = append(stmts, metadata.Statement{
			ID:              cs.id,
			File:            cs.file,
			Line:            cs.line,
			Function:        cs.function,
			Format:          cs.format,
			TypeDescriptors: descs,
			Level:           uint8(cs.level),
		})
	}
	if err := metadata.WriteStatements(instanceDir, os.Getpid(), stmts); err != nil {
		return nil, NewPathError("WRITE_CATALOG", instanceDir, ErrCodeIo, err)
	}
	if err := metadata.CreateLoggers(instanceDir); err != nil {
		return nil, NewPathError("WRITE_CATALOG", instanceDir, ErrCodeIo, err)
	}

	lockFd, err := unix.Open(filepath.Join(instanceDir, AppLockFilename), unix.O_CREAT|unix.O_RDWR|unix.O_EXCL, 0o660)
	if err != nil {
		return nil, NewPathError("INIT", instanceDir, ErrCodeIo, err)
	}
	if ok, lerr := shm.TryLock(lockFd); lerr != nil || !ok {
		unix.Close(lockFd)
		return nil, NewPathError("INIT", instanceDir, ErrCodeIo, lerr)
	}
	fe.appLockFd = lockFd

	readyFd, err := unix.Open(filepath.Join(instanceDir, AppReadyFilename), unix.O_CREAT|unix.O_RDWR|unix.O_EXCL, 0o660)
	if err != nil {
		fe.Close()
		return nil, NewPathError("INIT", instanceDir, ErrCodeIo, err)
	}
	unix.Close(readyFd)

	return fe, nil
}

// InstanceDir returns the instance directory this frontend owns.
func (f *Frontend) InstanceDir() string { return f.instanceDir }

// StartTimestamp returns the instance start time in nanoseconds since
// the Unix epoch; it is also the instance directory name.
func (f *Frontend) StartTimestamp() int64 { return f.startTs }

// Metrics returns the frontend's counters.
func (f *Frontend) Metrics() *Metrics { return f.metrics }

// Logger registers a named logger, appends it to the logger catalog,
// and returns it. Loggers live for the process lifetime.
func (f *Frontend) Logger(name string) (*Logger, error) {
	id := uint32(f.loggerSeq.AddAcqRel(1) - 1)
	if err := metadata.AppendLogger(f.instanceDir, id, name); err != nil {
		return nil, NewPathError("WRITE_CATALOG", f.instanceDir, ErrCodeIo, err)
	}
	return &Logger{id: id, name: name}, nil
}

// Context creates the calling goroutine's thread context with the next
// dense thread sequence number and its first queue. The context is
// owned by that goroutine alone and must be closed by it.
func (f *Frontend) Context() (*ThreadContext, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, NewError("CONTEXT", ErrCodeIo, "frontend closed")
	}

	seq := f.threadSeq.AddAcqRel(1) - 1
	tc := &ThreadContext{fe: f, threadSeq: seq}
	if err := tc.openQueue(0); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.contexts = append(f.contexts, tc)
	f.mu.Unlock()
	return tc, nil
}

// queueStem returns the path prefix for queue files of (thread, seq).
func (f *Frontend) queueStem(threadSeq uint64, rollover uint32) string {
	return filepath.Join(f.instanceDir, fmt.Sprintf("%d.%d", threadSeq, rollover))
}

// Close releases every thread context's queues and the instance
// liveness lock. After Close the backend observes the instance as dead
// and reclaims it once the queues are drained.
func (f *Frontend) Close() error {
	f.mu.Lock()
	contexts := f.contexts
	f.contexts = nil
	f.closed = true
	f.mu.Unlock()

	for _, tc := range contexts {
		_ = tc.close()
	}
	if f.appLockFd >= 0 {
		_ = shm.Unlock(f.appLockFd)
		unix.Close(f.appLockFd)
		f.appLockFd = -1
	}
	return nil
}
