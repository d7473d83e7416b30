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
	"io"
)

var (
	// ErrNeedsMoreInput is returned by a synchronous read-side call when it
	// has no buffered data and the caller must perform a transport fill
	// before retrying. It signals an empty buffer, not a transport fault.
	ErrNeedsMoreInput = errors.New("tlsstream: needs more input")

	// ErrNoSpace is returned by a synchronous write-side call when its
	// buffer cannot accept more bytes and the caller must drain to the
	// transport before retrying.
	ErrNoSpace = errors.New("tlsstream: no buffer space")

	// ErrInvalidData wraps a protocol violation reported by the engine.
	// Errors of this kind are fatal to the connection. Use [errors.Is] to
	// test for it.
	ErrInvalidData = errors.New("tlsstream: invalid incoming data")
)

// Engine is the synchronous record-layer state machine a [Stream] drives.
// It owns all cryptographic state and the wire record format; the Stream
// owns the transport and all buffering between the two.
//
// Engines never touch the transport. They exchange bytes exclusively
// through the io.Reader/io.Writer arguments below, and those readers and
// writers are allowed to return [ErrNeedsMoreInput] or [ErrNoSpace], which
// the engine must propagate unchanged.
//
// After the handshake completes, a split connection drives the read-side
// methods (ReadRecords, ProcessRecords, ReadPlaintext) and the write-side
// methods (WriteRecords, WritePlaintext, FlushPlaintext, SendCloseNotify)
// from two independently scheduled goroutines. Implementations must keep
// those two groups safe to use concurrently with each other, the same
// obligation crypto/tls places on its in/out half-connections.
type Engine interface {
	// ReadRecords pulls ciphertext from src into the engine's internal
	// record buffer and returns the byte count. Errors from src, including
	// io.EOF, are returned unchanged; io.EOF marks end of the transport
	// stream.
	ReadRecords(src io.Reader) (int, error)

	// ProcessRecords decrypts and dispatches any complete records received
	// via ReadRecords, advancing handshake state as needed. A non-nil error
	// is a protocol violation; the connection is no longer usable, though
	// the engine may still have a pending outgoing alert to flush.
	ProcessRecords() (ConnState, error)

	// WriteRecords pushes pending outgoing ciphertext to dst and returns
	// the byte count dst accepted. Errors from dst are returned unchanged.
	// The engine must only discard bytes dst reported as accepted.
	WriteRecords(dst io.Writer) (int, error)

	// ReadPlaintext copies decrypted application bytes into p. It returns
	// ErrNeedsMoreInput when no plaintext is buffered and the session is
	// still open, and io.EOF after the peer closed the session cleanly.
	ReadPlaintext(p []byte) (int, error)

	// WritePlaintext stages application bytes for encryption and returns
	// the count accepted. It fails if the engine's state cannot accept
	// application data, e.g. during the handshake.
	WritePlaintext(p []byte) (int, error)

	// FlushPlaintext encrypts any staged plaintext the engine has not yet
	// framed into records.
	FlushPlaintext() error

	// WantsRead reports whether the engine needs more incoming bytes to
	// make handshake progress.
	WantsRead() bool

	// WantsWrite reports whether the engine has outgoing ciphertext
	// pending.
	WantsWrite() bool

	// IsHandshaking reports whether the initial protocol exchange is still
	// in progress.
	IsHandshaking() bool

	// SendCloseNotify queues the protocol's clean end-of-session signal as
	// outgoing ciphertext.
	SendCloseNotify()
}

// ConnState is a snapshot of session state observed by
// [Engine.ProcessRecords].
type ConnState struct {
	// PeerClosed reports whether the peer has signaled the end of the
	// session.
	PeerClosed bool
}

// readSource is the strategy surface between the engine's synchronous pull
// of ciphertext and the transport. Read is the synchronous side handed to
// the engine; fill is the transport side, invoked whenever Read reported
// ErrNeedsMoreInput.
type readSource interface {
	io.Reader
	fill(transport io.Reader) (int, error)
}

// writeSink mirrors readSource for the outgoing direction. Write is handed
// to the engine; drain flushes to the transport after Write reported
// ErrNoSpace, and once more at the end of a write burst to clear any
// residue.
type writeSink interface {
	io.Writer
	drain(transport io.Writer) (int, error)
}
