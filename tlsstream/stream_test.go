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
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeEngine is a scripted Engine: WritePlaintext "encrypts" by queueing
// the bytes verbatim as outgoing records, and decrypted plaintext is
// whatever the test preloaded into plainOut.
type fakeEngine struct {
	handshaking bool
	processErr  error
	peerClosed  bool

	received   bytes.Buffer // ciphertext consumed from the read strategy
	plainOut   bytes.Buffer // plaintext handed to ReadPlaintext
	pendingOut []byte       // ciphertext awaiting WriteRecords

	acceptCalls   int
	closeNotified bool
}

var _ Engine = (*fakeEngine)(nil)

func (e *fakeEngine) ReadRecords(src io.Reader) (int, error) {
	var buf [512]byte
	n, err := src.Read(buf[:])
	e.received.Write(buf[:n])
	return n, err
}

func (e *fakeEngine) ProcessRecords() (ConnState, error) {
	if e.processErr != nil {
		return ConnState{}, e.processErr
	}
	return ConnState{PeerClosed: e.peerClosed}, nil
}

func (e *fakeEngine) WriteRecords(dst io.Writer) (int, error) {
	if len(e.pendingOut) == 0 {
		return 0, nil
	}
	n, err := dst.Write(e.pendingOut)
	e.pendingOut = e.pendingOut[n:]
	return n, err
}

func (e *fakeEngine) ReadPlaintext(p []byte) (int, error) {
	if e.plainOut.Len() > 0 {
		return e.plainOut.Read(p)
	}
	if e.peerClosed {
		return 0, io.EOF
	}
	return 0, ErrNeedsMoreInput
}

func (e *fakeEngine) WritePlaintext(p []byte) (int, error) {
	e.acceptCalls++
	e.pendingOut = append(e.pendingOut, p...)
	return len(p), nil
}

func (e *fakeEngine) FlushPlaintext() error { return nil }
func (e *fakeEngine) WantsRead() bool       { return e.handshaking }
func (e *fakeEngine) WantsWrite() bool      { return len(e.pendingOut) > 0 }
func (e *fakeEngine) IsHandshaking() bool   { return e.handshaking }

func (e *fakeEngine) SendCloseNotify() {
	e.closeNotified = true
	e.pendingOut = append(e.pendingOut, "close-notify"...)
}

// fakeTransport serves reads from a script and records writes. Write
// errors are popped from writeErrs one per call until it is empty.
type fakeTransport struct {
	in        io.Reader
	wrote     bytes.Buffer
	writeErrs []error
	flushed   bool
	closedW   bool
}

func (t *fakeTransport) Read(p []byte) (int, error) {
	if t.in == nil {
		return 0, io.EOF
	}
	return t.in.Read(p)
}

func (t *fakeTransport) Write(p []byte) (int, error) {
	if len(t.writeErrs) > 0 {
		err := t.writeErrs[0]
		t.writeErrs = t.writeErrs[1:]
		return 0, err
	}
	return t.wrote.Write(p)
}

func (t *fakeTransport) Flush() error      { t.flushed = true; return nil }
func (t *fakeTransport) CloseWrite() error { t.closedW = true; return nil }

func TestStream_HandshakeFailsOnTransportEOF(t *testing.T) {
	engine := &fakeEngine{handshaking: true}
	stream := NewStream(&fakeTransport{}, engine)

	_, _, err := stream.Handshake()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStream_ReadProtocolErrorFlushesAlert(t *testing.T) {
	engine := &fakeEngine{
		processErr: errors.New("bad record mac"),
		pendingOut: []byte("ALERT"),
	}
	transport := &fakeTransport{in: bytes.NewReader([]byte("junk from peer"))}
	stream := NewStream(transport, engine)

	_, err := stream.Read(make([]byte, 16))
	require.ErrorIs(t, err, ErrInvalidData)
	require.Contains(t, err.Error(), "bad record mac")
	// The pending alert was flushed best-effort before surfacing the error.
	require.Equal(t, "ALERT", transport.wrote.String())
}

func TestStream_SplitReadSuppressesAlertFlush(t *testing.T) {
	engine := &fakeEngine{
		processErr: errors.New("bad record mac"),
		pendingOut: []byte("ALERT"),
	}
	transport := &fakeTransport{in: bytes.NewReader([]byte("junk from peer"))}
	stream := NewStream(transport, engine)
	rh, _ := stream.Split()

	_, err := rh.Read(make([]byte, 16))
	require.ErrorIs(t, err, ErrInvalidData)
	// The write side may be live on another goroutine; nothing crossed over.
	require.Zero(t, transport.wrote.Len())
	require.Equal(t, "ALERT", string(engine.pendingOut))
}

func TestStream_WriteRetryDoesNotResubmit(t *testing.T) {
	fault := errors.New("transport stalled")
	engine := &fakeEngine{}
	transport := &fakeTransport{writeErrs: []error{fault}}
	stream := NewStream(transport, engine)

	_, err := stream.Write([]byte("hello"))
	require.ErrorIs(t, err, fault)
	require.Equal(t, 1, engine.acceptCalls)

	// Retry with the same bytes: the engine is not fed again and the
	// already-encrypted bytes are delivered exactly once.
	n, err := stream.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, 1, engine.acceptCalls)
	require.Equal(t, "hello", transport.wrote.String())
}

func TestStream_ReadZeroLengthDest(t *testing.T) {
	engine := &fakeEngine{}
	stream := NewStream(&fakeTransport{}, engine)

	n, err := stream.Read(nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, engine.received.Len())
}

func TestStream_ReadMidRecordEOF(t *testing.T) {
	// The transport delivers a fragment, then ends without completing a
	// record: the engine keeps asking for input and the stream reports a
	// premature end of stream.
	engine := &fakeEngine{}
	stream := NewStream(&fakeTransport{in: bytes.NewReader([]byte("partial"))}, engine)

	_, err := stream.Read(make([]byte, 16))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Equal(t, "partial", engine.received.String())
}

func TestStream_CleanCloseYieldsEOF(t *testing.T) {
	engine := &fakeEngine{peerClosed: true}
	stream := NewStream(&fakeTransport{}, engine)

	n, err := stream.Read(make([]byte, 16))
	require.ErrorIs(t, err, io.EOF)
	require.Zero(t, n)
}

func TestStream_FlushReachesTransport(t *testing.T) {
	engine := &fakeEngine{pendingOut: []byte("tail")}
	transport := &fakeTransport{}
	stream := NewStream(transport, engine)

	require.NoError(t, stream.Flush())
	require.Equal(t, "tail", transport.wrote.String())
	require.True(t, transport.flushed)
}

func TestStream_CloseWriteSendsCloseNotify(t *testing.T) {
	engine := &fakeEngine{}
	transport := &fakeTransport{}
	stream := NewStream(transport, engine)

	require.NoError(t, stream.CloseWrite())
	require.True(t, engine.closeNotified)
	require.Equal(t, "close-notify", transport.wrote.String())
	require.True(t, transport.closedW)
}

func TestStream_WriteVectoredFirstNonEmpty(t *testing.T) {
	engine := &fakeEngine{}
	transport := &fakeTransport{}
	stream := NewStream(transport, engine)

	n, err := stream.WriteVectored([][]byte{nil, {}, []byte("hi"), []byte("skipped")})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "hi", transport.wrote.String())

	n, err = stream.WriteVectored(nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

type vectoredTransport struct{ fakeTransport }

func (t *vectoredTransport) WriteVectored(bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := t.Write(b)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestStream_SupportsVectoredReflectsTransport(t *testing.T) {
	plain := NewStream(&fakeTransport{}, &fakeEngine{})
	require.False(t, plain.SupportsVectored())

	vectored := NewStream(&vectoredTransport{}, &fakeEngine{})
	require.True(t, vectored.SupportsVectored())
}

func TestStream_RejectsDirectUseWhileSplit(t *testing.T) {
	engine := &fakeEngine{}
	engine.plainOut.WriteString("queued")
	stream := NewStream(&fakeTransport{}, engine)

	rh, wh := stream.Split()
	_, err := stream.Read(make([]byte, 4))
	require.ErrorContains(t, err, "split")
	_, err = stream.Write([]byte("x"))
	require.ErrorContains(t, err, "split")
	require.ErrorContains(t, stream.Flush(), "split")
	_, _, err = stream.Handshake()
	require.ErrorContains(t, err, "split")

	reunited, err := Reunite(rh, wh)
	require.NoError(t, err)
	require.Same(t, stream, reunited)

	buf := make([]byte, 6)
	n, err := reunited.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "queued", string(buf[:n]))
}

func TestStream_PartsReturnsOwnership(t *testing.T) {
	engine := &fakeEngine{}
	transport := &fakeTransport{}
	stream := NewStream(transport, engine)

	tr, eng := stream.Parts()
	require.Same(t, transport, tr)
	require.Same(t, engine, eng)
}

func TestStream_HandshakeReportsByteCounts(t *testing.T) {
	// One outgoing flight, then the handshake completes as soon as the
	// engine consumes any response bytes.
	engine := &handshakeOnceEngine{fakeEngine: fakeEngine{handshaking: true, pendingOut: []byte("flight1")}}
	transport := &fakeTransport{in: bytes.NewReader([]byte("flight2!"))}
	stream := NewStream(transport, engine)

	rd, wr, err := stream.Handshake()
	require.NoError(t, err)
	require.Equal(t, 7, wr)
	require.Equal(t, 8, rd)
}

// handshakeOnceEngine finishes its handshake after processing the first
// incoming bytes.
type handshakeOnceEngine struct{ fakeEngine }

func (e *handshakeOnceEngine) ProcessRecords() (ConnState, error) {
	if e.received.Len() > 0 {
		e.handshaking = false
	}
	return e.fakeEngine.ProcessRecords()
}
