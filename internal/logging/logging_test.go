package logging

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFileAndHistory(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	l, err := New(Config{Dir: dir, Level: "debug", Console: true, ConsoleOut: &console, MaxHistory: 10})
	require.NoError(t, err)
	defer l.Close()

	log := l.Component("capture")
	log.Info().Str("device", "cam0").Msg("Camera started")
	log.Error().Err(errors.New("denied")).Msg("Error accessing camera")

	entries := l.History().Recent(2)
	require.Len(t, entries, 2)
	assert.Equal(t, "info", entries[0].Level)
	assert.Equal(t, "capture", entries[0].Component)
	assert.Equal(t, "Camera started", entries[0].Message)
	assert.Equal(t, "device=cam0", entries[0].Fields)
	assert.Equal(t, "error=denied", entries[1].Fields)
	assert.Contains(t, entries[1].String(), "ERROR [capture] Error accessing camera")

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"Camera started"`)
	assert.Contains(t, console.String(), "Camera started")
}

func TestLevelFilters(t *testing.T) {
	l, err := New(Config{Dir: t.TempDir(), Level: "warn"})
	require.NoError(t, err)
	defer l.Close()

	log := l.Component("x")
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	entries := l.History().Recent(0)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0].Message)
}

func TestInvalidLevel(t *testing.T) {
	_, err := New(Config{Dir: t.TempDir(), Level: "loud"})
	assert.Error(t, err)
}

func TestHistoryBoundAndSubscribe(t *testing.T) {
	h := NewHistory(3)
	var seen []string
	cancel := h.Subscribe(func(e Entry) { seen = append(seen, e.Message) })

	for _, msg := range []string{"a", "b", "c", "d"} {
		_, err := h.Write([]byte(`{"level":"info","message":"` + msg + `"}` + "\n"))
		require.NoError(t, err)
	}
	cancel()
	_, _ = h.Write([]byte("plain text line\n"))

	var got []string
	for _, e := range h.Recent(0) {
		got = append(got, e.Message)
	}
	assert.Equal(t, []string{"c", "d", "plain text line"}, got)
	assert.Equal(t, []string{"a", "b", "c", "d"}, seen)
	assert.Len(t, h.Recent(1), 1)
	assert.Len(t, h.Recent(99), 3)
}
