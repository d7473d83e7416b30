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

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Transport is the raw bidirectional byte stream a [Stream] runs on. Reads
// and writes block until progress is possible; they are the only points
// where a Stream operation waits on I/O.
//
// Optional capabilities are discovered by interface assertion:
// `CloseWrite() error` for half-close, `Flush() error`, [io.Closer], and
// [VectoredWriter]. A split connection drives reads and writes from two
// goroutines, so transports used with [Stream.Split] must tolerate one
// concurrent reader plus one concurrent writer, as net.Conn does.
type Transport interface {
	io.Reader
	io.Writer
}

// VectoredWriter is implemented by transports that can write multiple
// buffers in one operation. [Stream.SupportsVectored] reports whether the
// underlying transport has this capability.
type VectoredWriter interface {
	WriteVectored(bufs [][]byte) (int, error)
}

var errStreamSplit = errors.New("tlsstream: stream is split; use the halves or Reunite first")

// Stream adapts a synchronous record [Engine] onto a [Transport]. It owns
// both and sequences all data flow between them: transport bytes are
// staged through a read-side buffering strategy into the engine's record
// processing, and produced ciphertext is staged through a write-side
// strategy back out.
//
// After [Stream.Handshake] succeeds, reads and writes may proceed
// concurrently (one reader, one writer); each direction touches only its
// own strategy and engine half.
type Stream struct {
	transport Transport
	engine    Engine

	readMu sync.Mutex
	rbuf   readSource

	writeMu sync.Mutex
	wbuf    writeSink
	// pendingWrite is the count the engine accepted in a Write whose drain
	// has not completed. It survives a failed drain so that a retry with
	// the same bytes does not encrypt them twice.
	pendingWrite int

	split atomic.Bool
}

// Option configures a [Stream] at construction.
type Option func(*Stream)

// WithZeroCopyBuffers selects the zero-copy buffering strategies: instead
// of staging bytes in an intermediate buffer, transport I/O runs directly
// against the buffers the engine passes in.
//
// This requires the engine to keep each buffer it hands to the stream
// stable until the call that handed it over is retried, and to retry with
// the same pending bytes. Engines that relocate or reuse their record
// buffers between calls must not be combined with this option. The copying
// strategies are the default.
func WithZeroCopyBuffers() Option {
	return func(s *Stream) {
		s.rbuf = &zeroCopyReader{}
		s.wbuf = &zeroCopyWriter{}
	}
}

// NewStream wraps transport and engine into a Stream. The handshake is not
// started; call [Stream.Handshake] or use a [Connector].
func NewStream(transport Transport, engine Engine, opts ...Option) *Stream {
	s := &Stream{
		transport: transport,
		engine:    engine,
		rbuf:      &copyReader{},
		wbuf:      &copyWriter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Parts releases the transport and engine session, recovering exclusive
// ownership for use outside the stream. The Stream must not be used
// afterwards.
func (s *Stream) Parts() (Transport, Engine) {
	return s.transport, s.engine
}

// alertFlushMode says what readIO may do with the write side when the
// engine reports a protocol error and has a pending outgoing alert.
type alertFlushMode int

const (
	// alertFlushLocked takes the write lock for the best-effort flush; used
	// by the plain read path, which may run beside a concurrent writer.
	alertFlushLocked alertFlushMode = iota
	// alertFlushDirect flushes without locking; used while the caller
	// already owns the write side (handshake).
	alertFlushDirect
	// alertFlushNone suppresses the flush entirely; used by the split read
	// half, which must never touch state a live write half may be using.
	alertFlushNone
)

// readIO pulls ciphertext from the transport into the engine and lets it
// process complete records. Returns the number of raw bytes the engine
// consumed; zero means the transport reached end of stream.
func (s *Stream) readIO(mode alertFlushMode) (int, error) {
	var n int
	for {
		m, err := s.engine.ReadRecords(s.rbuf)
		if err == nil || errors.Is(err, io.EOF) {
			n = m
			break
		}
		if !errors.Is(err, ErrNeedsMoreInput) {
			return 0, err
		}
		if _, err := s.rbuf.fill(s.transport); err != nil {
			return 0, err
		}
	}

	state, err := s.engine.ProcessRecords()
	if err != nil {
		// The engine usually has an alert queued at this point. Flushing it
		// is best effort: the connection is already being torn down, so a
		// flush failure is swallowed.
		switch mode {
		case alertFlushLocked:
			s.writeMu.Lock()
			_, _ = s.writeIO()
			s.writeMu.Unlock()
		case alertFlushDirect:
			_, _ = s.writeIO()
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	if state.PeerClosed && s.engine.IsHandshaking() {
		return 0, fmt.Errorf("tlsstream: handshake terminated by peer: %w", io.ErrUnexpectedEOF)
	}
	return n, nil
}

// writeIO pushes ciphertext the engine wants to send through the write
// strategy to the transport, finishing with a residual drain (a no-op for
// the zero-copy sink). Returns the number of bytes the engine produced.
func (s *Stream) writeIO() (int, error) {
	total := 0
	for {
		n, err := s.engine.WriteRecords(s.wbuf)
		total += n
		if err == nil {
			break
		}
		if !errors.Is(err, ErrNoSpace) {
			return total, err
		}
		if _, err := s.wbuf.drain(s.transport); err != nil {
			return total, err
		}
	}
	if _, err := s.wbuf.drain(s.transport); err != nil {
		return total, err
	}
	return total, nil
}

// Handshake drives the initial protocol exchange to completion and returns
// the total bytes read and written while doing so. It must complete before
// Read or Write is used. A transport that ends before the exchange
// finishes yields an error wrapping [io.ErrUnexpectedEOF].
func (s *Stream) Handshake() (bytesRead, bytesWritten int, err error) {
	if s.split.Load() {
		return 0, 0, errStreamSplit
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	eof := false
	for {
		for s.engine.WantsWrite() && s.engine.IsHandshaking() {
			n, err := s.writeIO()
			bytesWritten += n
			if err != nil {
				return bytesRead, bytesWritten, err
			}
		}
		for !eof && s.engine.WantsRead() && s.engine.IsHandshaking() {
			n, err := s.readIO(alertFlushDirect)
			bytesRead += n
			if err != nil {
				return bytesRead, bytesWritten, err
			}
			if n == 0 {
				eof = true
			}
		}
		if !s.engine.IsHandshaking() {
			break
		}
		if eof {
			return bytesRead, bytesWritten,
				fmt.Errorf("tlsstream: transport closed during handshake: %w", io.ErrUnexpectedEOF)
		}
	}

	// Trailing ciphertext, e.g. the final handshake flight.
	for s.engine.WantsWrite() {
		n, err := s.writeIO()
		bytesWritten += n
		if err != nil {
			return bytesRead, bytesWritten, err
		}
	}
	return bytesRead, bytesWritten, nil
}

// Read decrypts application bytes into p. It blocks only while waiting on
// the transport. A clean session close yields io.EOF; a transport that
// ends mid-record yields an error wrapping [io.ErrUnexpectedEOF].
func (s *Stream) Read(p []byte) (int, error) {
	if s.split.Load() {
		return 0, errStreamSplit
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()
	return s.readInner(p, alertFlushLocked)
}

func (s *Stream) readInner(p []byte, mode alertFlushMode) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := s.engine.ReadPlaintext(p)
		if err == nil || errors.Is(err, io.EOF) {
			return n, err
		}
		if !errors.Is(err, ErrNeedsMoreInput) {
			return 0, err
		}

		n, err = s.readIO(mode)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, fmt.Errorf("tlsstream: transport closed mid-record: %w", io.ErrUnexpectedEOF)
		}
	}
}

// Write encrypts p and sends the resulting ciphertext, returning the
// number of bytes of p the engine accepted.
//
// If Write fails after the engine accepted bytes, those bytes are already
// encrypted and will not be re-submitted: retrying the Write with the same
// p resumes draining and then reports the original accepted count.
func (s *Stream) Write(p []byte) (int, error) {
	if s.split.Load() {
		return 0, errStreamSplit
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeInner(p)
}

func (s *Stream) writeInner(p []byte) (int, error) {
	accepted := s.pendingWrite
	if accepted == 0 {
		var err error
		accepted, err = s.engine.WritePlaintext(p)
		if err != nil {
			return 0, err
		}
		s.pendingWrite = accepted
	}

	for s.engine.WantsWrite() {
		n, err := s.writeIO()
		if err != nil {
			return 0, err
		}
		if n == 0 {
			break
		}
	}
	// A drain interrupted by an earlier transport error can leave ciphertext
	// staged after the engine already discarded it. Deliver it now so the
	// retry path never loses bytes.
	if _, err := s.wbuf.drain(s.transport); err != nil {
		return 0, err
	}
	s.pendingWrite = 0
	return accepted, nil
}

// Flush encrypts any plaintext the engine has staged, sends all pending
// ciphertext, and flushes the transport if it supports flushing.
func (s *Stream) Flush() error {
	if s.split.Load() {
		return errStreamSplit
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.flushInner()
}

func (s *Stream) flushInner() error {
	if err := s.engine.FlushPlaintext(); err != nil {
		return err
	}
	for s.engine.WantsWrite() {
		if _, err := s.writeIO(); err != nil {
			return err
		}
	}
	if _, err := s.wbuf.drain(s.transport); err != nil {
		return err
	}
	if f, ok := s.transport.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// CloseWrite sends the engine's close notification, drains it, and shuts
// down the write end of the transport (falling back to a full close when
// the transport has no half-close). The read direction stays usable.
func (s *Stream) CloseWrite() error {
	if s.split.Load() {
		return errStreamSplit
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closeWriteInner()
}

func (s *Stream) closeWriteInner() error {
	s.engine.SendCloseNotify()
	for s.engine.WantsWrite() {
		if _, err := s.writeIO(); err != nil {
			return err
		}
	}
	if cw, ok := s.transport.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	if c, ok := s.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Close sends the close notification on a best-effort basis and closes the
// transport.
func (s *Stream) Close() error {
	if s.split.Load() {
		return errStreamSplit
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.engine.SendCloseNotify()
	for s.engine.WantsWrite() {
		if _, err := s.writeIO(); err != nil {
			break
		}
	}
	if c, ok := s.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SupportsVectored reports whether the underlying transport implements
// [VectoredWriter].
func (s *Stream) SupportsVectored() bool {
	_, ok := s.transport.(VectoredWriter)
	return ok
}

// WriteVectored writes the first non-empty buffer of bufs. The record
// layer coalesces payloads into records regardless of how the caller
// scattered them, so nothing is gained by feeding the engine more than one
// segment per call.
func (s *Stream) WriteVectored(bufs [][]byte) (int, error) {
	for _, b := range bufs {
		if len(b) > 0 {
			return s.Write(b)
		}
	}
	return 0, nil
}
