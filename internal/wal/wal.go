// Package wal implements the write-ahead log contract described in §4.6:
// appends are synchronous from the tree's point of view, but the
// implementation may buffer them (two alternating buffers drained by a
// background fsync goroutine) as long as order is preserved. This mirrors
// original_source/optimized/libcache/FileWAL.hpp's double-buffer design,
// translated from a hand-rolled malloc'd byte buffer + raw pthread into a
// mutex-guarded []byte pair and a goroutine, since Go gives us a safe
// equivalent to "one writer fills a buffer while the other flushes" without
// needing FileWAL's atomic offset dance.
//
// © 2025 btreecache authors. MIT License.
package wal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/arena-cache/btreecache/internal/codec"
)

// Op tags a WAL record as either half of the tree's mutating surface.
type Op uint8

const (
	OpInsert Op = 1
	OpRemove Op = 2
)

// bufferSize matches FileWAL.hpp's WAL_BUFFER_SIZE tuning: large enough to
// absorb a burst of small fixed-size entries before a flush is needed.
const bufferSize = 4096

// WAL is the one included write-ahead log implementation. It is
// parameterized over the tree's key/value codecs so entries serialize at
// their fixed width, same as node blocks.
type WAL[K any, V any] struct {
	keyCodec codec.Codec[K]
	valCodec codec.Codec[V]

	mu     sync.Mutex
	active int
	bufs   [2][]byte

	flushReq chan int
	closed   chan struct{}
	wg       sync.WaitGroup

	file *os.File
	log  *zap.Logger
}

// Open creates the WAL file at path if it does not exist (an existing log
// is kept and appended to) and starts the background flush goroutine.
func Open[K any, V any](path string, keyCodec codec.Codec[K], valCodec codec.Codec[V], log *zap.Logger) (*WAL[K, V], error) {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	// Position at EOF so live Append calls extend the file rather than
	// overwrite a log a prior process left behind; Replay seeks to the
	// start on its own and leaves the descriptor at EOF once it hits it.
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}

	w := &WAL[K, V]{
		keyCodec: keyCodec,
		valCodec: valCodec,
		flushReq: make(chan int, 2),
		closed:   make(chan struct{}),
		file:     f,
		log:      log,
	}
	w.bufs[0] = make([]byte, 0, bufferSize)
	w.bufs[1] = make([]byte, 0, bufferSize)

	w.wg.Add(1)
	go w.flushLoop()

	return w, nil
}

// OpenForReplay opens an existing WAL file purely for Replay, without
// starting the background flush goroutine (no further Append is expected
// until the caller calls Open on the replayed path for live appends).
func OpenForReplay[K any, V any](path string, keyCodec codec.Codec[K], valCodec codec.Codec[V]) (*WAL[K, V], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &WAL[K, V]{keyCodec: keyCodec, valCodec: valCodec, file: f, log: zap.NewNop()}, nil
}

func (w *WAL[K, V]) entrySize(op Op) int {
	switch op {
	case OpRemove:
		return 1 + w.keyCodec.Size
	default:
		return 1 + w.keyCodec.Size + w.valCodec.Size
	}
}

// Append writes one record into the active buffer, swapping and handing
// the filled buffer to the background flusher when it is full. Returns
// once the record is placed in a buffer; durability to disk happens
// asynchronously, in FIFO order across swaps.
func (w *WAL[K, V]) Append(op Op, key K, value V) error {
	size := w.entrySize(op)
	entry := make([]byte, size)
	entry[0] = byte(op)
	w.keyCodec.Encode(entry[1:1+w.keyCodec.Size], key)
	if op != OpRemove {
		w.valCodec.Encode(entry[1+w.keyCodec.Size:], value)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.bufs[w.active])+size > bufferSize {
		w.swapLocked()
	}
	w.bufs[w.active] = append(w.bufs[w.active], entry...)
	return nil
}

// swapLocked hands the active buffer to the background flusher and
// switches writers to the other buffer. Caller holds w.mu.
func (w *WAL[K, V]) swapLocked() {
	full := w.active
	w.active = 1 - w.active
	w.bufs[w.active] = w.bufs[w.active][:0]
	select {
	case w.flushReq <- full:
	case <-w.closed:
	}
}

func (w *WAL[K, V]) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case idx := <-w.flushReq:
			w.flushBuffer(idx)
		case <-w.closed:
			// Drain any queued flush requests before exiting.
			for {
				select {
				case idx := <-w.flushReq:
					w.flushBuffer(idx)
				default:
					return
				}
			}
		}
	}
}

func (w *WAL[K, V]) flushBuffer(idx int) {
	w.mu.Lock()
	data := append([]byte(nil), w.bufs[idx]...)
	w.mu.Unlock()

	if len(data) == 0 {
		return
	}
	if _, err := w.file.Write(data); err != nil {
		w.log.Warn("wal: write failed", zap.Error(err))
		return
	}
	if err := w.file.Sync(); err != nil {
		w.log.Warn("wal: fsync failed", zap.Error(err))
	}
}

// PersistAllItemsFunc is the hook Truncate calls before it empties the
// file. The caller supplies it to make every logged op durable in the
// tree's own storage, so that nothing is lost when the log is cut.
type PersistAllItemsFunc func() error

// Flush forces both buffers to disk synchronously and waits for the
// writes to land. Truncate and Close call it.
func (w *WAL[K, V]) Flush() error {
	w.mu.Lock()
	a, b := w.active, 1-w.active
	dataA := append([]byte(nil), w.bufs[a]...)
	dataB := append([]byte(nil), w.bufs[b]...)
	w.bufs[a] = w.bufs[a][:0]
	w.bufs[b] = w.bufs[b][:0]
	w.mu.Unlock()

	for _, data := range [][]byte{dataB, dataA} { // preserve arrival order: non-active buffer predates active
		if len(data) == 0 {
			continue
		}
		if _, err := w.file.Write(data); err != nil {
			return err
		}
	}
	return w.file.Sync()
}

// Truncate calls persist (if non-nil) to guarantee durability of
// everything older than the truncation point, then empties the WAL file.
func (w *WAL[K, V]) Truncate(persist PersistAllItemsFunc) error {
	if persist != nil {
		if err := persist(); err != nil {
			return fmt.Errorf("wal: persistAllItems before truncate: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}

// Replay reads every record in file order and invokes apply for each. Used
// on startup against an on-disk WAL from a previous process (S6).
func (w *WAL[K, V]) Replay(apply func(op Op, key K, value V) error) error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(w.file)

	for {
		opByte, err := r.ReadByte()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		op := Op(opByte)

		keyBuf := make([]byte, w.keyCodec.Size)
		if _, err := io.ReadFull(r, keyBuf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil // truncated tail record, ignore
			}
			return err
		}
		key := w.keyCodec.Decode(keyBuf)

		var value V
		if op != OpRemove {
			valBuf := make([]byte, w.valCodec.Size)
			if _, err := io.ReadFull(r, valBuf); err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					return nil
				}
				return err
			}
			value = w.valCodec.Decode(valBuf)
		}

		if err := apply(op, key, value); err != nil {
			return err
		}
	}
}

// Close stops the background flusher (if running), flushes whatever is
// still sitting in either buffer, and closes the file. Skipping the flush
// here would silently drop the tail of the log: anything accumulated in
// the active buffer since the last swap has never reached the flusher.
func (w *WAL[K, V]) Close() error {
	if w.closed != nil {
		select {
		case <-w.closed:
		default:
			close(w.closed)
			w.wg.Wait()
		}
	}
	if err := w.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
