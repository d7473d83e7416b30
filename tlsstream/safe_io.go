// Copyright 2025 The tokio-tls Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tlsstream

import "io"

// copyReader is the default read-direction buffering strategy. The engine
// reads from it synchronously; fill performs the real transport read into
// the ring buffer and latches the outcome.
//
// The latched status (nil, io.EOF or a transport error) captures the result
// of the most recent fill and is consumed by exactly one subsequent Read,
// after which the strategy reverts to reporting ErrNeedsMoreInput on an
// empty buffer. A persistent transport fault therefore surfaces once per
// fill, never as a sticky failure.
type copyReader struct {
	buf    buffer
	status error
}

var _ readSource = (*copyReader)(nil)

// Read copies buffered bytes out, or replays the latched status if the
// buffer is empty. With no data and no status it returns ErrNeedsMoreInput
// so the orchestrator knows a fill must happen first.
func (r *copyReader) Read(p []byte) (int, error) {
	if r.buf.empty() {
		if r.status != nil {
			err := r.status
			r.status = nil
			return 0, err
		}
		return 0, ErrNeedsMoreInput
	}
	n := copy(p, r.buf.pending())
	r.buf.advance(n)
	return n, nil
}

// fill performs at most one transport read into the free tail of the
// buffer. If data is already buffered it returns the pending length without
// touching the transport, so redundant fills are harmless to in-flight
// reads. A zero-byte result latches io.EOF; a transport error is latched
// and also returned.
func (r *copyReader) fill(transport io.Reader) (int, error) {
	if !r.buf.empty() {
		return r.buf.len(), nil
	}
	n, err := transport.Read(r.buf.free())
	r.buf.write += n
	switch {
	case err == io.EOF:
		r.status = io.EOF
		return n, nil
	case err != nil:
		r.status = err
		return n, err
	}
	return n, nil
}

// copyWriter is the default write-direction buffering strategy: the engine
// writes ciphertext into the ring buffer synchronously and drain flushes it
// to the transport. Only errors are latched on this side; a successful
// drain consumes the buffered region entirely.
type copyWriter struct {
	buf    buffer
	status error
}

var _ writeSink = (*copyWriter)(nil)

// Write copies bytes into the buffer's free tail, accepting a short count
// when space runs out. A latched drain error is replayed first, consumed by
// this one call. A full buffer yields ErrNoSpace.
func (w *copyWriter) Write(p []byte) (int, error) {
	if w.status != nil {
		err := w.status
		w.status = nil
		return 0, err
	}
	if w.buf.full() {
		return 0, ErrNoSpace
	}
	n := copy(w.buf.free(), p)
	w.buf.write += n
	return n, nil
}

// drain writes the whole buffered region to the transport. The buffer is
// advanced past every byte the transport accepted even when the write fails
// partway, so a retry never resubmits delivered bytes. A drain that empties
// the buffer clears any error latched by an earlier failed one.
func (w *copyWriter) drain(transport io.Writer) (int, error) {
	total := 0
	for !w.buf.empty() {
		n, err := transport.Write(w.buf.pending())
		w.buf.advance(n)
		total += n
		if err == nil && n == 0 {
			err = io.ErrShortWrite
		}
		if err != nil {
			w.status = err
			return total, err
		}
	}
	w.status = nil
	return total, nil
}
