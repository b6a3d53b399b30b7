package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendAndReadAllRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWAL(dir, "u1", 2, 50*time.Millisecond)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err := w.Append(Event{Kind: EventRecord, At: time.Now(), Payload: []byte(`{"n":1}`)})
		require.NoError(t, err)
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	events, offset, err := ReadAll(filepath.Join(dir, "u1.wal"))
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Greater(t, offset, int64(0))
	for _, e := range events {
		require.Equal(t, EventRecord, e.Kind)
	}
}

func TestReadAllTruncatesCorruptTail(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWAL(dir, "u2", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Append(Event{Kind: EventDelete, At: time.Now(), Payload: []byte(`{}`)}))
	require.NoError(t, w.Close())

	path := filepath.Join(dir, "u2.wal")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 99, 1, 2, 3}) // bogus length, short payload
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, offset, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NoError(t, func() error {
		w2, err := OpenWAL(dir, "u2", 1, 10*time.Millisecond)
		if err != nil {
			return err
		}
		defer w2.Close()
		return w2.Truncate(offset)
	}())

	events2, _, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, events2, 1)
}

func TestSnapshotRoundTripAndCorruptionDetection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.bin")
	order := []string{"episodes", "entities"}
	sections := map[string][]byte{
		"episodes": []byte(`[{"id":"a"}]`),
		"entities": []byte(`[{"id":"b"}]`),
	}
	require.NoError(t, WriteSnapshot(path, sections, order))

	got, err := ReadSnapshot(path, order)
	require.NoError(t, err)
	require.Equal(t, sections, got)

	// Corrupt the last payload byte of the final section and expect detection.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-5] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = ReadSnapshot(path, order)
	require.Error(t, err)
}

func TestReadSnapshotMissingFileIsNotAnError(t *testing.T) {
	sections, err := ReadSnapshot(filepath.Join(t.TempDir(), "missing.bin"), []string{"episodes"})
	require.NoError(t, err)
	require.Nil(t, sections)
}
