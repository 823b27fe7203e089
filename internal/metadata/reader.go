package metadata

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNonContiguous is returned when catalog ids do not increment from
// zero in file order.
var ErrNonContiguous = errors.New("metadata ids not contiguous")

// value extracts the text after "key: " from a line known to start
// with key.
func value(line, key string) string {
	return strings.TrimPrefix(line[len(key):], ": ")
}

// ReadStatements parses the statement catalog in dir. It takes the
// catalog lock briefly to avoid observing a torn write.
func ReadStatements(dir string) (pid string, stmts []Statement, err error) {
	r, err := openLocked(filepath.Join(dir, StatementsFilename), os.O_RDONLY)
	if err != nil {
		return "", nil, err
	}
	defer r.close()

	var cur *Statement
	inBlock := false

	sc := bufio.NewScanner(r.f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "process_id"):
			pid = value(line, "process_id")
			inBlock = false
		case strings.HasPrefix(line, "log_statements"):
			inBlock = true
		case !inBlock || !strings.HasPrefix(line, "  "):
			inBlock = false
		case strings.HasPrefix(line, "  - id"):
			id, perr := strconv.ParseUint(value(line, "  - id"), 10, 32)
			if perr != nil {
				return "", nil, fmt.Errorf("statement id: %w", perr)
			}
			if id != uint64(len(stmts)) {
				return "", nil, ErrNonContiguous
			}
			stmts = append(stmts, Statement{ID: uint32(id)})
			cur = &stmts[len(stmts)-1]
		case cur == nil:
			// field line before any id; skip
		case strings.HasPrefix(line, "    file"):
			cur.File = value(line, "    file")
		case strings.HasPrefix(line, "    line"):
			n, perr := strconv.ParseUint(value(line, "    line"), 10, 32)
			if perr != nil {
				return "", nil, fmt.Errorf("statement line: %w", perr)
			}
			cur.Line = uint32(n)
		case strings.HasPrefix(line, "    function"):
			cur.Function = value(line, "    function")
		case strings.HasPrefix(line, "    log_format"):
			cur.Format = value(line, "    log_format")
		case strings.HasPrefix(line, "    type_descriptors"):
			for _, tok := range strings.Fields(value(line, "    type_descriptors")) {
				n, perr := strconv.ParseUint(tok, 10, 8)
				if perr != nil {
					return "", nil, fmt.Errorf("type descriptor: %w", perr)
				}
				cur.TypeDescriptors = append(cur.TypeDescriptors, uint8(n))
			}
		case strings.HasPrefix(line, "    log_level"):
			n, perr := strconv.ParseUint(value(line, "    log_level"), 10, 8)
			if perr != nil {
				return "", nil, fmt.Errorf("log level: %w", perr)
			}
			cur.Level = uint8(n)
		default:
			// unknown key; readers tolerate fields they do not know
		}
	}
	if err := sc.Err(); err != nil {
		return "", nil, err
	}
	return pid, stmts, nil
}

// ReadLoggers parses the logger catalog in dir. Loggers are appended
// incrementally by the frontend, so repeated reads may see more
// entries than before.
func ReadLoggers(dir string) ([]Logger, error) {
	r, err := openLocked(filepath.Join(dir, LoggersFilename), os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer r.close()

	var loggers []Logger
	var cur *Logger
	inBlock := false

	sc := bufio.NewScanner(r.f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "loggers"):
			inBlock = true
		case !inBlock || !strings.HasPrefix(line, "  "):
			inBlock = false
		case strings.HasPrefix(line, "  - id"):
			id, perr := strconv.ParseUint(value(line, "  - id"), 10, 32)
			if perr != nil {
				return nil, fmt.Errorf("logger id: %w", perr)
			}
			if id != uint64(len(loggers)) {
				return nil, ErrNonContiguous
			}
			loggers = append(loggers, Logger{ID: uint32(id)})
			cur = &loggers[len(loggers)-1]
		case cur == nil:
		case strings.HasPrefix(line, "    name"):
			cur.Name = value(line, "    name")
		default:
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return loggers, nil
}
