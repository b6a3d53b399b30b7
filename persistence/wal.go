// Package persistence implements a per-user append-only write-ahead log
// plus periodic snapshots, with CRC-checked recovery. Records use gotoon as
// an encoding/json drop-in everywhere they cross a boundary, framed in a
// length-prefixed, CRC32-checked event stream (see DESIGN.md for the
// framing rationale).
package persistence

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	gotoon "github.com/alpkeskin/gotoon"
	"golang.org/x/time/rate"

	"github.com/SarahR1/shodh-memory/shodherr"
)

// EventKind enumerates the WAL event taxonomy.
type EventKind string

const (
	EventRecord        EventKind = "record"
	EventDelete        EventKind = "delete"
	EventEdgeUpdate    EventKind = "edge_update"
	EventSalienceUpdate EventKind = "salience_update"
	EventTierChange    EventKind = "tier_change"
)

// Event is one WAL entry. Payload is the gotoon-encoded domain object
// (namespace writes an episode plus its vector for "record" and the episode
// id for "delete"); callers decode it once Kind is known.
type Event struct {
	Kind    EventKind       `json:"kind"`
	At      time.Time       `json:"at"`
	Payload gotoon.RawMessage `json:"payload"`
}

// snapshotMagic/snapshotVersion guard a snapshot file header.
var snapshotMagic = [4]byte{'S', 'H', 'D', 'M'}

const snapshotVersion uint32 = 1

// WAL is one user's append-only event log. Writes are buffered; an Append
// flushes and fsyncs once FsyncBatchSize events are pending, or when the
// golang.org/x/time/rate limiter (one token per FsyncInterval) allows it.
// There is no background timer: events left buffered by an Append stay
// unflushed until the next Append, Flush or Close.
type WAL struct {
	mu sync.Mutex

	path    string
	file    *os.File
	writer  *bufio.Writer
	pending int

	batchSize     int
	fsyncInterval time.Duration
	limiter       *rate.Limiter
	lastFsync     time.Time
}

// OpenWAL opens (creating if absent) the WAL file for one user.
func OpenWAL(dir, userID string, batchSize int, fsyncInterval time.Duration) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, shodherr.Fatalf("persistence.OpenWAL", err)
	}
	path := filepath.Join(dir, userID+".wal")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, shodherr.Fatalf("persistence.OpenWAL", err)
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	if fsyncInterval <= 0 {
		fsyncInterval = 200 * time.Millisecond
	}
	return &WAL{
		path:          path,
		file:          f,
		writer:        bufio.NewWriter(f),
		batchSize:     batchSize,
		fsyncInterval: fsyncInterval,
		limiter:       rate.NewLimiter(rate.Every(fsyncInterval), 1),
		lastFsync:     time.Now(),
	}, nil
}

// Append encodes and frames one event: [uint32 length][payload bytes][uint32 crc32],
// where payload is the gotoon-marshaled Event. The record itself is written
// before the caller is allowed to apply any dependent ANN/graph mutation for
// the same id, preserving the "no torn episodes" ordering invariant — that
// ordering is the caller's responsibility (write the WAL event, then mutate
// in-memory state).
func (w *WAL) Append(ev Event) error {
	data, err := gotoon.Marshal(ev)
	if err != nil {
		return shodherr.Invalid("persistence.Append", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.writer.Write(lenBuf[:]); err != nil {
		return shodherr.Transientf("persistence.Append", err)
	}
	if _, err := w.writer.Write(data); err != nil {
		return shodherr.Transientf("persistence.Append", err)
	}
	sum := crc32.ChecksumIEEE(data)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], sum)
	if _, err := w.writer.Write(crcBuf[:]); err != nil {
		return shodherr.Transientf("persistence.Append", err)
	}

	w.pending++
	if w.pending >= w.batchSize {
		return w.flushLocked()
	}
	if w.limiter.Allow() {
		return w.flushLocked()
	}
	return nil
}

func (w *WAL) flushLocked() error {
	if err := w.writer.Flush(); err != nil {
		return shodherr.Transientf("persistence.flush", err)
	}
	if err := w.file.Sync(); err != nil {
		return shodherr.Transientf("persistence.fsync", err)
	}
	w.pending = 0
	w.lastFsync = time.Now()
	return nil
}

// Flush forces a buffered-write + fsync regardless of batch/time thresholds.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.writer.Flush()
	return w.file.Close()
}

// Path returns the WAL's backing file path, for recovery code that needs to
// re-read it with ReadAll.
func (w *WAL) Path() string {
	return w.path
}

// Truncate discards everything from offset onward — used during recovery
// when a corrupt tail is found.
func (w *WAL) Truncate(offset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(offset); err != nil {
		return err
	}
	_, err := w.file.Seek(offset, io.SeekStart)
	return err
}

// Reset discards the entire log, used once a snapshot has captured every
// event written so far.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writer.Reset(w.file)
	w.pending = 0
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}

// ReadAll replays every well-formed event in the log from the start,
// stopping at the first corrupt frame and returning the byte offset where
// the corruption begins (so the caller can Truncate there). A short final
// read (a torn write from a crash mid-append) is treated the same as
// corruption, not as an error.
func ReadAll(path string) ([]Event, int64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, shodherr.Fatalf("persistence.ReadAll", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var events []Event
	var offset int64

	for {
		frameStart := offset
		var lenBuf [4]byte
		n, err := io.ReadFull(r, lenBuf[:])
		offset += int64(n)
		if err == io.EOF {
			break
		}
		if err != nil {
			return events, frameStart, nil
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		payload := make([]byte, length)
		n, err = io.ReadFull(r, payload)
		offset += int64(n)
		if err != nil {
			return events, frameStart, nil
		}
		var crcBuf [4]byte
		n, err = io.ReadFull(r, crcBuf[:])
		offset += int64(n)
		if err != nil {
			return events, frameStart, nil
		}
		if crc32.ChecksumIEEE(payload) != binary.BigEndian.Uint32(crcBuf[:]) {
			return events, frameStart, nil
		}

		var ev Event
		if err := gotoon.Unmarshal(payload, &ev); err != nil {
			return events, frameStart, nil
		}
		events = append(events, ev)
	}
	return events, offset, nil
}

// SnapshotHeader describes the fixed preamble of a snapshot file.
type SnapshotHeader struct {
	Version uint32
}

// WriteSnapshot writes magic+version, then one length-prefixed, CRC32-framed
// section per named payload (namespace.Snapshot writes
// episodes/vectors/entities/edges/links), in the order given.
func WriteSnapshot(path string, sections map[string][]byte, order []string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return shodherr.Fatalf("persistence.WriteSnapshot", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.Write(snapshotMagic[:]); err != nil {
		return err
	}
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], snapshotVersion)
	if _, err := w.Write(verBuf[:]); err != nil {
		return err
	}

	for _, name := range order {
		data := sections[name]
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		sum := crc32.ChecksumIEEE(data)
		var crcBuf [4]byte
		binary.BigEndian.PutUint32(crcBuf[:], sum)
		if _, err := w.Write(crcBuf[:]); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadSnapshot reads back the sections written by WriteSnapshot, in order.
// A magic/version mismatch or a CRC failure on any section is reported as a
// Corruption error and no sections are returned. namespace.Open passes that
// error up, and engine.Process then starts the user's namespace empty,
// without replaying the WAL.
func ReadSnapshot(path string, order []string) (map[string][]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, shodherr.Fatalf("persistence.ReadSnapshot", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, shodherr.Corrupt("persistence.ReadSnapshot", err)
	}
	if magic != snapshotMagic {
		return nil, shodherr.Corrupt("persistence.ReadSnapshot", fmt.Errorf("bad magic"))
	}
	var verBuf [4]byte
	if _, err := io.ReadFull(r, verBuf[:]); err != nil {
		return nil, shodherr.Corrupt("persistence.ReadSnapshot", err)
	}
	if binary.BigEndian.Uint32(verBuf[:]) != snapshotVersion {
		return nil, shodherr.Corrupt("persistence.ReadSnapshot", fmt.Errorf("unsupported snapshot version"))
	}

	sections := make(map[string][]byte, len(order))
	for _, name := range order {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, shodherr.Corrupt("persistence.ReadSnapshot", err)
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, shodherr.Corrupt("persistence.ReadSnapshot", err)
		}
		var crcBuf [4]byte
		if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
			return nil, shodherr.Corrupt("persistence.ReadSnapshot", err)
		}
		if crc32.ChecksumIEEE(data) != binary.BigEndian.Uint32(crcBuf[:]) {
			return nil, shodherr.Corrupt("persistence.ReadSnapshot", fmt.Errorf("section %q crc mismatch", name))
		}
		sections[name] = data
	}
	return sections, nil
}
