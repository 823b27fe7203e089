package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("nope")
	l.Info("nope")
	l.Warn("yes")
	l.Error("also")

	out := buf.String()
	assert.NotContains(t, out, "nope")
	assert.Contains(t, out, "WARN  yes")
	assert.Contains(t, out, "ERROR also")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestKeyValueRendering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Info("queue opened", "stem", "/dev/shm/app/1/0.0", "capacity", 4096)

	line := buf.String()
	assert.Contains(t, line, "queue opened")
	assert.Contains(t, line, "stem=/dev/shm/app/1/0.0")
	assert.Contains(t, line, "capacity=4096")
}

func TestValuesWithSpacesQuoted(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Warn("problem", "error", "no such file")
	assert.Contains(t, buf.String(), `error="no such file"`)
}

func TestWarnOnceSuppressesRepeats(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	// A scan loop keeps finding the same corrupt queue; one line only.
	for i := 0; i < 5; i++ {
		l.WarnOnce("/x/0.0", "queue unreadable", "stem", "/x/0.0")
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "queue unreadable"))

	// A different subject warns independently.
	l.WarnOnce("/x/1.0", "queue unreadable", "stem", "/x/1.0")
	assert.Equal(t, 2, strings.Count(buf.String(), "queue unreadable"))
}

func TestForgetRearmsSubject(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.WarnOnce("/x/0.0", "queue unreadable")
	l.Forget("/x/0.0")
	l.WarnOnce("/x/0.0", "queue unreadable")

	assert.Equal(t, 2, strings.Count(buf.String(), "queue unreadable"))
}

func TestWarnOnceConcurrent(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.WarnOnce("shared", "only once")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, strings.Count(buf.String(), "only once"))
}

func TestDefaultSingleton(t *testing.T) {
	a := Default()
	require.NotNil(t, a)
	assert.Same(t, a, Default())

	var buf bytes.Buffer
	custom := New(&buf, LevelDebug)
	SetDefault(custom)
	assert.Same(t, custom, Default())
}
