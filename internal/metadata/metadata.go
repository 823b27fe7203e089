// Package metadata reads and writes the self-describing catalog files
// an instance leaves next to its queues: the log-statement catalog,
// written once at startup, and the logger catalog, appended to as
// loggers are created. The format is a small line-oriented subset of
// YAML with two-space indentation; readers skip unknown keys so the
// files can grow fields without breaking older backends.
package metadata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitlog-dev/bitlog/internal/shm"
)

const (
	StatementsFilename = "log-statements-metadata.yaml"
	LoggersFilename    = "loggers-metadata.yaml"
)

// Statement is one catalog entry for a logging call site.
type Statement struct {
	ID              uint32
	File            string
	Line            uint32
	Function        string
	Format          string
	TypeDescriptors []uint8
	Level           uint8
}

// Logger is one catalog entry for a named logger.
type Logger struct {
	ID   uint32
	Name string
}

// file wraps an os.File held under the catalog's advisory lock for the
// duration of a read or write.
type file struct {
	f *os.File
}

func openLocked(path string, flag int) (*file, error) {
	f, err := os.OpenFile(path, flag, 0o660)
	if err != nil {
		return nil, err
	}
	if err := shm.LockBlocking(int(f.Fd())); err != nil {
		f.Close()
		return nil, err
	}
	return &file{f: f}, nil
}

func (m *file) close() {
	_ = shm.Unlock(int(m.f.Fd()))
	_ = m.f.Close()
}

// WriteStatements serializes the full statement catalog to dir. It is
// written exactly once per instance, before the app ready marker.
func WriteStatements(dir string, pid int, stmts []Statement) error {
	w, err := openLocked(filepath.Join(dir, StatementsFilename), os.O_CREATE|os.O_WRONLY|os.O_APPEND)
	if err != nil {
		return err
	}
	defer w.close()

	if _, err := fmt.Fprintf(w.f, "process_id: %d\nlog_statements:\n", pid); err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := fmt.Fprintf(w.f, "  - id: %d\n    file: %s\n    line: %d\n    function: %s\n    log_format: %s\n",
			s.ID, s.File, s.Line, s.Function, s.Format); err != nil {
			return err
		}
		if len(s.TypeDescriptors) > 0 {
			if _, err := fmt.Fprintf(w.f, "    type_descriptors: %s\n", descriptorString(s.TypeDescriptors)); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w.f, "    log_level: %d\n", s.Level); err != nil {
			return err
		}
	}
	return nil
}

func descriptorString(descs []uint8) string {
	out := make([]byte, 0, 3*len(descs))
	for i, d := range descs {
		if i > 0 {
			out = append(out, ' ')
		}
		out = fmt.Appendf(out, "%d", d)
	}
	return string(out)
}

// CreateLoggers writes the logger catalog header.
func CreateLoggers(dir string) error {
	w, err := openLocked(filepath.Join(dir, LoggersFilename), os.O_CREATE|os.O_WRONLY|os.O_APPEND)
	if err != nil {
		return err
	}
	defer w.close()

	_, err = fmt.Fprintf(w.f, "loggers:\n")
	return err
}

// AppendLogger appends one logger record. Called as loggers are
// created, after CreateLoggers.
func AppendLogger(dir string, id uint32, name string) error {
	w, err := openLocked(filepath.Join(dir, LoggersFilename), os.O_WRONLY|os.O_APPEND)
	if err != nil {
		return err
	}
	defer w.close()

	_, err = fmt.Fprintf(w.f, "  - id: %d\n    name: %s\n", id, name)
	return err
}
