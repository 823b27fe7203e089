// bitlog-tail hosts a log backend: it discovers application instances
// under the shared-memory root, drains their queues, and prints the
// decoded records to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/bitlog-dev/bitlog"
	"github.com/bitlog-dev/bitlog/internal/logging"
)

func main() {
	var (
		app      = flag.String("app", "", "Application id to follow (empty follows everything)")
		root     = flag.String("root", "", "Shared-memory root override (default /dev/shm, /tmp)")
		poll     = flag.Duration("poll", 10*time.Millisecond, "Sleep between idle scan passes")
		batch    = flag.Int("batch", 64, "Records drained per queue per pass")
		parallel = flag.Bool("parallel", false, "Drain instances on a worker pool")
		verbose  = flag.Bool("v", false, "Verbose diagnostics")
	)
	flag.Parse()

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	logging.SetDefault(logging.New(os.Stderr, level))
	logger := logging.Default()

	printer := &printer{color: term.IsTerminal(int(os.Stdout.Fd()))}

	backend, err := bitlog.NewBackend(bitlog.BackendConfig{
		ApplicationID:   *app,
		ShmRootOverride: *root,
		PollInterval:    *poll,
		DrainBatch:      *batch,
		Concurrent:      *parallel,
	}, printer)
	if err != nil {
		logger.Error("failed to create backend", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	_ = backend.Run(ctx)

	s := backend.Metrics().Snapshot()
	logger.Info("backend stopped",
		"records", s.RecordsDelivered,
		"bytes", s.BytesDrained,
		"corrupt", s.CorruptRecords,
		"queues_retired", s.QueuesRetired,
		"instances_retired", s.InstancesRetired)
}

// printer renders decoded records one per line, colored by level when
// stdout is a terminal.
type printer struct {
	color bool
}

var levelColors = map[bitlog.LogLevel]string{
	bitlog.LevelWarning:  "\x1b[33m",
	bitlog.LevelError:    "\x1b[31m",
	bitlog.LevelCritical: "\x1b[35m",
}

func (p *printer) HandleRecord(stmt *bitlog.Statement, logger *bitlog.LoggerInfo, timestampNs uint64, args []bitlog.Arg) {
	ts := time.Unix(0, int64(timestampNs)).Format("15:04:05.000000000")
	name := "?"
	if logger != nil {
		name = logger.Name
	}

	level := stmt.Level.String()
	if p.color {
		if c, ok := levelColors[stmt.Level]; ok {
			level = c + level + "\x1b[0m"
		}
	}

	fmt.Printf("%s %-8s %-10s %s\n", ts, level, name, renderFormat(stmt.Format, args))
}

func (p *printer) HandleRaw(callsiteID, loggerID uint32, timestampNs uint64, data []byte) {
	ts := time.Unix(0, int64(timestampNs)).Format("15:04:05.000000000")
	fmt.Printf("%s RAW      callsite=%d logger=%d %x\n", ts, callsiteID, loggerID, data)
}

// renderFormat substitutes {} placeholders positionally. Full pattern
// formatting is the job of an external formatter; this is just enough
// to tail logs.
func renderFormat(format string, args []bitlog.Arg) string {
	var sb strings.Builder
	argIdx := 0
	for i := 0; i < len(format); i++ {
		if format[i] == '{' && i+1 < len(format) && format[i+1] == '}' && argIdx < len(args) {
			fmt.Fprintf(&sb, "%v", args[argIdx].Value())
			argIdx++
			i++
			continue
		}
		sb.WriteByte(format[i])
	}
	for ; argIdx < len(args); argIdx++ {
		fmt.Fprintf(&sb, " %v", args[argIdx].Value())
	}
	return sb.String()
}
