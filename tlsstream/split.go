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

// ReadHalf is the read end of a split [Stream]. It exposes only the
// decrypting read operation.
type ReadHalf struct {
	stream *Stream
}

// WriteHalf is the write end of a split [Stream]. It exposes the
// encrypting write, flush and shutdown operations.
type WriteHalf struct {
	stream *Stream
}

// Split divides the stream into a read half and a write half that can be
// driven by two independently scheduled goroutines. Each direction touches
// only its own buffering strategy and engine half; the one read-side path
// that would cross over (flushing an alert after a protocol error) is
// suppressed on the split read half.
//
// While split, the Stream itself rejects direct use. Call [Reunite] to
// collapse the halves back into it. The transport and engine must tolerate
// one concurrent reader plus one concurrent writer; see [Transport] and
// [Engine].
func (s *Stream) Split() (*ReadHalf, *WriteHalf) {
	s.split.Store(true)
	return &ReadHalf{stream: s}, &WriteHalf{stream: s}
}

// Read decrypts application bytes into p. See [Stream.Read]. A protocol
// error surfaced here leaves any pending outgoing alert unflushed; the
// caller should shut down the write half.
func (r *ReadHalf) Read(p []byte) (int, error) {
	r.stream.readMu.Lock()
	defer r.stream.readMu.Unlock()
	return r.stream.readInner(p, alertFlushNone)
}

// Write encrypts p and sends it. See [Stream.Write].
func (w *WriteHalf) Write(p []byte) (int, error) {
	w.stream.writeMu.Lock()
	defer w.stream.writeMu.Unlock()
	return w.stream.writeInner(p)
}

// Flush sends all staged and pending bytes. See [Stream.Flush].
func (w *WriteHalf) Flush() error {
	w.stream.writeMu.Lock()
	defer w.stream.writeMu.Unlock()
	return w.stream.flushInner()
}

// CloseWrite sends the close notification and shuts down the transport's
// write end. See [Stream.CloseWrite].
func (w *WriteHalf) CloseWrite() error {
	w.stream.writeMu.Lock()
	defer w.stream.writeMu.Unlock()
	return w.stream.closeWriteInner()
}

// SupportsVectored reports the underlying transport's vectored-write
// capability. See [Stream.SupportsVectored].
func (w *WriteHalf) SupportsVectored() bool {
	return w.stream.SupportsVectored()
}

// WriteVectored writes the first non-empty buffer of bufs. See
// [Stream.WriteVectored].
func (w *WriteHalf) WriteVectored(bufs [][]byte) (int, error) {
	for _, b := range bufs {
		if len(b) > 0 {
			return w.Write(b)
		}
	}
	return 0, nil
}

// ReuniteError is returned by [Reunite] when the two halves do not come
// from the same split stream. Both halves are carried back unchanged so
// the caller can keep using them.
type ReuniteError struct {
	Read  *ReadHalf
	Write *WriteHalf
}

func (e *ReuniteError) Error() string {
	return "tlsstream: reunite of halves from different streams"
}

// Reunite collapses a read half and a write half back into the exclusively
// owned [Stream] they came from. The halves must originate from the same
// [Stream.Split] call, checked by identity; otherwise a [*ReuniteError]
// carrying both halves is returned and they remain usable.
func Reunite(r *ReadHalf, w *WriteHalf) (*Stream, error) {
	if r.stream != w.stream {
		return nil, &ReuniteError{Read: r, Write: w}
	}
	s := r.stream
	s.split.Store(false)
	return s, nil
}
