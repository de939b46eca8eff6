// SPDX-License-Identifier: MIT

package bsdiff

import (
	"fmt"
	"sync"
)

// ControlOp identifies the kind of a Control record.
type ControlOp byte

const (
	// OpAdd carries AddLength bytes of wrapping byte-difference (new minus
	// old, mod 256) to be added onto the next AddLength bytes read from the
	// old file at the decoder's current old-file cursor.
	OpAdd ControlOp = iota
	// OpCopy carries literal new-file bytes with no corresponding old-file
	// region; the decoder copies Data directly to the output.
	OpCopy
	// OpSeek carries a signed displacement applied to the decoder's
	// old-file cursor after the preceding Add, positioning it for the next
	// record's Add.
	OpSeek
)

// Control is one instruction in the translated patch stream. Every Match
// translates to exactly three Controls, in order: Add, Copy, Seek.
type Control struct {
	Op   ControlOp
	Data []byte // populated for OpAdd and OpCopy
	Seek int64  // populated for OpSeek
}

// ControlFunc consumes one Control record in stream order. An OpAdd
// record's Data aliases a buffer the Translator overwrites for the next
// Match, so a ControlFunc that keeps it past the call must copy it.
type ControlFunc func(Control) error

// deltaBufferPool recycles the byte-difference scratch buffers Translator
// uses for OpAdd records, so a long-running process translating many
// files doesn't allocate a fresh one per Translator. Within a Translator
// the same buffer is reused for every Match.
var deltaBufferPool = sync.Pool{
	New: func() any { return make([]byte, 0, 4096) },
}

func acquireDeltaBuffer() []byte {
	return deltaBufferPool.Get().([]byte)[:0]
}

func releaseDeltaBuffer(buf []byte) {
	deltaBufferPool.Put(buf) //nolint:staticcheck // intentionally pooling by value, not pointer
}

// Translator converts a stream of Matches (as produced by Diff, in
// increasing AddNewStart order) into a stream of Control records. It
// holds back one Match at a time because a record's Seek displacement
// depends on the AddOldStart of the Match that follows it; Close flushes
// whatever Match is still held back.
//
// A Translator must not be used concurrently from multiple goroutines,
// and must not be reused after Close.
type Translator struct {
	old, new []byte
	emit     ControlFunc

	pending  *Match
	deltaBuf []byte

	closed   bool
	closeErr error
}

// NewTranslator returns a Translator that diffs Matches against old and
// new, invoking emit once per Control in stream order.
func NewTranslator(old, new []byte, emit ControlFunc) *Translator {
	return &Translator{
		old:      old,
		new:      new,
		emit:     emit,
		deltaBuf: acquireDeltaBuffer(),
	}
}

// Add submits the next Match in the stream.
func (tr *Translator) Add(m Match) error {
	if tr.closed {
		return fmt.Errorf("bsdiff: translator: Add called after Close")
	}
	if tr.pending != nil {
		if err := tr.flush(*tr.pending, m.AddOldStart); err != nil {
			return err
		}
	}
	pending := m
	tr.pending = &pending
	return nil
}

// flush emits the three Controls for m. nextOldStart is the AddOldStart
// of the Match that will follow m (or, for the final Match in the
// stream, m's own old-cursor end, which yields a zero seek).
func (tr *Translator) flush(m Match, nextOldStart int) error {
	addLen := m.AddLength
	if cap(tr.deltaBuf) < addLen {
		tr.deltaBuf = make([]byte, addLen)
	}
	delta := tr.deltaBuf[:addLen]
	for i := 0; i < addLen; i++ {
		delta[i] = tr.new[m.AddNewStart+i] - tr.old[m.AddOldStart+i]
	}
	if err := tr.emit(Control{Op: OpAdd, Data: delta}); err != nil {
		return err
	}

	copyBytes := tr.new[m.copyStart():m.CopyEnd]
	if err := tr.emit(Control{Op: OpCopy, Data: copyBytes}); err != nil {
		return err
	}

	seek := int64(nextOldStart) - int64(m.AddOldStart+m.AddLength)
	return tr.emit(Control{Op: OpSeek, Seek: seek})
}

// Close flushes the final held-back Match, if any, and releases the
// Translator's pooled delta buffer. Close is idempotent: the first call's
// result (nil or an error) is recorded and replayed on every subsequent
// call, without flushing twice.
//
// Callers that rely on a bare `defer translator.Close()` rather than
// checking its return deliberately swallow a final-flush error: the
// pending Match's Add/Copy/Seek records are still attempted and still
// released back to the pool, but nothing reports the failure. This
// mirrors the encoder's general stance that Close is the only place
// errors from buffered work surface, and callers on the happy path that
// skip checking it get silence, not a panic.
func (tr *Translator) Close() error {
	if tr.closed {
		return tr.closeErr
	}
	tr.closed = true

	if tr.pending != nil {
		p := *tr.pending
		tr.pending = nil
		if err := tr.flush(p, p.AddOldStart+p.AddLength); err != nil {
			tr.closeErr = err
		}
	}

	releaseDeltaBuffer(tr.deltaBuf)
	tr.deltaBuf = nil
	return tr.closeErr
}
