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

// Package psk implements a minimal pre-shared-key record engine for
// [tlsstream.Stream]. Both peers hold the same 32-byte key; a one-round
// hello exchange contributes fresh randomness, traffic keys are derived
// with HKDF-SHA256, and records are sealed with ChaCha20-Poly1305 under
// per-direction counter nonces.
//
// The engine exists as the reference implementation of the
// [tlsstream.Engine] contract and as the cryptographic backend of this
// repository's end-to-end tests. It performs no certificate validation:
// authentication is mutual, through the key itself.
package psk

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/compdzwio/tokio-tls/tlsstream"
)

// Wire format: every record is a 3-byte header (1-byte type, 2-byte
// big-endian payload length) followed by the payload. Hello records travel
// in the clear and carry 32 bytes of randomness plus a 32-byte session
// identifier. Data and close records sent after key derivation carry an
// AEAD-sealed payload.
const (
	frameHello = 0x01
	frameClose = 0x15
	frameData  = 0x17

	frameHeaderSize = 3
	randomSize      = 32
	sessionIDSize   = 32
	helloSize       = randomSize + sessionIDSize

	// maxPayload bounds the plaintext per data record, so a sealed record
	// always fits the stream's staging buffer plus AEAD overhead.
	maxPayload   = 16 * 1024
	maxFrameSize = frameHeaderSize + maxPayload + chacha20poly1305.Overhead
)

// KeySize is the required length of the pre-shared key.
const KeySize = chacha20poly1305.KeySize

// Config holds the parameters shared by client and server sessions.
type Config struct {
	// PSK is the 32-byte key both peers hold.
	PSK []byte
	// SessionID identifies a previous session, if any. Client sessions
	// pass it to the session identifier generator; it is all zero when no
	// prior session exists.
	SessionID [sessionIDSize]byte
}

var _ tlsstream.ClientConfig = (*Config)(nil)

// NewSession implements [tlsstream.ClientConfig].
func (c *Config) NewSession(serverName string, gen tlsstream.SessionIDGenerator) (tlsstream.Engine, error) {
	return Client(c, serverName, gen)
}

// Session is one endpoint of the record protocol. It implements
// [tlsstream.Engine].
//
// After the handshake the receive state (incoming buffer, opener, receive
// sequence, plaintext queue) and the send state (outgoing buffer, sealer,
// send sequence) are disjoint, so one goroutine may drive the read-side
// methods while another drives the write-side ones, as a split stream
// does.
type Session struct {
	isClient   bool
	serverName string
	psk        []byte

	handshaking  bool
	clientRandom [randomSize]byte
	serverRandom [randomSize]byte
	sessionID    [sessionIDSize]byte

	in         bytes.Buffer // raw bytes fed by ReadRecords, not yet framed
	plain      bytes.Buffer // decrypted application bytes
	open       cipher.AEAD
	recvSeq    uint64
	peerClosed bool

	out       bytes.Buffer // wire bytes awaiting WriteRecords
	seal      cipher.AEAD
	sendSeq   uint64
	closeSent bool

	// scratch stages one transport read per ReadRecords call. It is a
	// fixed member so the slice handed to the source reader stays valid
	// across the would-block retry, which the zero-copy strategy requires.
	scratch [maxFrameSize]byte
}

var _ tlsstream.Engine = (*Session)(nil)

// Client creates a client session. gen may be nil, in which case the
// session identifier is random. The serverName is recorded for
// diagnostics; this engine authenticates through the key, not a
// certificate name.
func Client(config *Config, serverName string, gen tlsstream.SessionIDGenerator) (*Session, error) {
	s, err := newSession(config, true, serverName)
	if err != nil {
		return nil, err
	}
	if _, err := rand.Read(s.clientRandom[:]); err != nil {
		return nil, err
	}
	if gen != nil {
		s.sessionID = gen(config.SessionID[:])
	} else if _, err := rand.Read(s.sessionID[:]); err != nil {
		return nil, err
	}

	var hello [helloSize]byte
	copy(hello[:randomSize], s.clientRandom[:])
	copy(hello[randomSize:], s.sessionID[:])
	s.appendFrame(frameHello, hello[:])
	return s, nil
}

// Server creates a server session that waits for a client hello.
func Server(config *Config) (*Session, error) {
	return newSession(config, false, "")
}

func newSession(config *Config, isClient bool, serverName string) (*Session, error) {
	if config == nil {
		return nil, errors.New("psk: config must not be nil")
	}
	if len(config.PSK) != KeySize {
		return nil, fmt.Errorf("psk: key must be %d bytes, got %d", KeySize, len(config.PSK))
	}
	return &Session{
		isClient:    isClient,
		serverName:  serverName,
		psk:         append([]byte(nil), config.PSK...),
		handshaking: true,
	}, nil
}

// SessionID returns the identifier negotiated for this session.
func (s *Session) SessionID() [sessionIDSize]byte {
	return s.sessionID
}

// ReadRecords implements [tlsstream.Engine]. It performs a single read
// from src into the session's staging area.
func (s *Session) ReadRecords(src io.Reader) (int, error) {
	n, err := src.Read(s.scratch[:])
	if n > 0 {
		s.in.Write(s.scratch[:n])
	}
	return n, err
}

// ProcessRecords implements [tlsstream.Engine]. It consumes every complete
// record buffered so far; a partial record at the tail is kept for the
// next round.
func (s *Session) ProcessRecords() (tlsstream.ConnState, error) {
	for {
		data := s.in.Bytes()
		if len(data) < frameHeaderSize {
			break
		}
		typ := data[0]
		length := int(binary.BigEndian.Uint16(data[1:3]))
		if length > maxPayload+chacha20poly1305.Overhead {
			return tlsstream.ConnState{}, fmt.Errorf("psk: record payload of %d bytes exceeds limit", length)
		}
		if len(data) < frameHeaderSize+length {
			break
		}
		payload := data[frameHeaderSize : frameHeaderSize+length]

		var err error
		switch typ {
		case frameHello:
			err = s.handleHello(payload)
		case frameData:
			err = s.handleData(payload)
		case frameClose:
			err = s.handleClose(payload)
		default:
			err = fmt.Errorf("psk: unknown record type 0x%02x", typ)
		}
		if err != nil {
			return tlsstream.ConnState{}, err
		}
		s.in.Next(frameHeaderSize + length)
	}
	return tlsstream.ConnState{PeerClosed: s.peerClosed}, nil
}

func (s *Session) handleHello(payload []byte) error {
	if !s.handshaking {
		return errors.New("psk: hello record after handshake")
	}
	if len(payload) != helloSize {
		return fmt.Errorf("psk: hello record of %d bytes, want %d", len(payload), helloSize)
	}

	if s.isClient {
		copy(s.serverRandom[:], payload[:randomSize])
		if !bytes.Equal(payload[randomSize:], s.sessionID[:]) {
			return errors.New("psk: server echoed a different session identifier")
		}
	} else {
		copy(s.clientRandom[:], payload[:randomSize])
		copy(s.sessionID[:], payload[randomSize:])
		if _, err := rand.Read(s.serverRandom[:]); err != nil {
			return err
		}
		var hello [helloSize]byte
		copy(hello[:randomSize], s.serverRandom[:])
		copy(hello[randomSize:], s.sessionID[:])
		s.appendFrame(frameHello, hello[:])
	}

	if err := s.deriveKeys(); err != nil {
		return err
	}
	s.handshaking = false
	return nil
}

func (s *Session) handleData(payload []byte) error {
	if s.handshaking || s.open == nil {
		return errors.New("psk: data record before handshake completion")
	}
	pt, err := s.open.Open(payload[:0], s.nonce(s.recvSeq), payload, nil)
	if err != nil {
		return errors.New("psk: record authentication failed")
	}
	s.recvSeq++
	s.plain.Write(pt)
	return nil
}

func (s *Session) handleClose(payload []byte) error {
	if s.open != nil && len(payload) > 0 {
		if _, err := s.open.Open(nil, s.nonce(s.recvSeq), payload, nil); err != nil {
			return errors.New("psk: close record authentication failed")
		}
		s.recvSeq++
	}
	s.peerClosed = true
	return nil
}

// WriteRecords implements [tlsstream.Engine]. Only bytes dst reports as
// accepted are discarded, so a short write resumes where it left off.
func (s *Session) WriteRecords(dst io.Writer) (int, error) {
	if s.out.Len() == 0 {
		return 0, nil
	}
	n, err := dst.Write(s.out.Bytes())
	s.out.Next(n)
	return n, err
}

// ReadPlaintext implements [tlsstream.Engine].
func (s *Session) ReadPlaintext(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if s.plain.Len() > 0 {
		return s.plain.Read(p)
	}
	if s.peerClosed {
		return 0, io.EOF
	}
	return 0, tlsstream.ErrNeedsMoreInput
}

// WritePlaintext implements [tlsstream.Engine]. The payload is framed and
// sealed immediately, one record per maxPayload chunk.
func (s *Session) WritePlaintext(p []byte) (int, error) {
	if s.handshaking || s.seal == nil {
		return 0, errors.New("psk: session is still handshaking")
	}
	if s.closeSent {
		return 0, errors.New("psk: session is closed for writing")
	}
	total := len(p)
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxPayload {
			chunk = chunk[:maxPayload]
		}
		s.sealFrame(frameData, chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

// FlushPlaintext implements [tlsstream.Engine]. Records are produced
// eagerly by WritePlaintext, so nothing is ever staged.
func (s *Session) FlushPlaintext() error {
	return nil
}

// WantsRead implements [tlsstream.Engine].
func (s *Session) WantsRead() bool {
	return s.handshaking && s.out.Len() == 0
}

// WantsWrite implements [tlsstream.Engine].
func (s *Session) WantsWrite() bool {
	return s.out.Len() > 0
}

// IsHandshaking implements [tlsstream.Engine].
func (s *Session) IsHandshaking() bool {
	return s.handshaking
}

// SendCloseNotify implements [tlsstream.Engine]. The close record is sent
// sealed once traffic keys exist, in the clear before that.
func (s *Session) SendCloseNotify() {
	if s.closeSent {
		return
	}
	s.closeSent = true
	if s.seal != nil {
		s.sealFrame(frameClose, nil)
	} else {
		s.appendFrame(frameClose, nil)
	}
}

func (s *Session) appendFrame(typ byte, payload []byte) {
	var hdr [frameHeaderSize]byte
	hdr[0] = typ
	binary.BigEndian.PutUint16(hdr[1:3], uint16(len(payload)))
	s.out.Write(hdr[:])
	s.out.Write(payload)
}

func (s *Session) sealFrame(typ byte, plaintext []byte) {
	ct := s.seal.Seal(nil, s.nonce(s.sendSeq), plaintext, nil)
	s.sendSeq++
	var hdr [frameHeaderSize]byte
	hdr[0] = typ
	binary.BigEndian.PutUint16(hdr[1:3], uint16(len(ct)))
	s.out.Write(hdr[:])
	s.out.Write(ct)
}

func (s *Session) nonce(seq uint64) []byte {
	var n [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(n[:8], seq)
	return n[:]
}

// deriveKeys turns the PSK and both hello randoms into one traffic key per
// direction.
func (s *Session) deriveKeys() error {
	salt := make([]byte, 0, 2*randomSize)
	salt = append(salt, s.clientRandom[:]...)
	salt = append(salt, s.serverRandom[:]...)

	c2s, err := trafficKey(s.psk, salt, "psk-tls traffic c2s")
	if err != nil {
		return err
	}
	s2c, err := trafficKey(s.psk, salt, "psk-tls traffic s2c")
	if err != nil {
		return err
	}
	if s.isClient {
		s.seal, s.open = c2s, s2c
	} else {
		s.seal, s.open = s2c, c2s
	}
	return nil
}

func trafficKey(secret, salt []byte, info string) (cipher.AEAD, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), key); err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}
