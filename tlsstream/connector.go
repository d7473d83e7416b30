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
)

// SessionIDGenerator derives a fresh 32-byte session identifier from the
// previous one (empty or all-zero when there is none). It must be a pure
// function; engines use it to customize the resumption identifiers they
// put on the wire, e.g. to resist fingerprinting.
type SessionIDGenerator func(prev []byte) [32]byte

// ClientConfig creates client engine sessions. gen may be nil, in which
// case the engine uses its default session identifiers.
type ClientConfig interface {
	NewSession(serverName string, gen SessionIDGenerator) (Engine, error)
}

// Connector establishes client connections: it creates an engine session
// from its config, wraps it with the transport into a [Stream], and runs
// the handshake.
type Connector struct {
	config ClientConfig
	opts   []Option
}

// NewConnector returns a Connector that builds streams with the given
// options, e.g. [WithZeroCopyBuffers].
func NewConnector(config ClientConfig, opts ...Option) (*Connector, error) {
	if config == nil {
		return nil, errors.New("tlsstream: config must not be nil")
	}
	return &Connector{config: config, opts: opts}, nil
}

// Connect runs a client handshake for serverName over transport and
// returns the established stream. On error the transport is returned to
// the caller untouched apart from the bytes already exchanged.
func (c *Connector) Connect(serverName string, transport Transport) (*Stream, error) {
	return c.connect(serverName, transport, nil)
}

// ConnectWithSessionID is [Connector.Connect] with a custom session
// identifier generator passed through to the engine session.
func (c *Connector) ConnectWithSessionID(serverName string, transport Transport, gen SessionIDGenerator) (*Stream, error) {
	if gen == nil {
		return nil, errors.New("tlsstream: session id generator must not be nil")
	}
	return c.connect(serverName, transport, gen)
}

func (c *Connector) connect(serverName string, transport Transport, gen SessionIDGenerator) (*Stream, error) {
	if transport == nil {
		return nil, errors.New("tlsstream: transport must not be nil")
	}
	engine, err := c.config.NewSession(serverName, gen)
	if err != nil {
		return nil, fmt.Errorf("tlsstream: failed to create session: %w", err)
	}
	stream := NewStream(transport, engine, c.opts...)
	if _, _, err := stream.Handshake(); err != nil {
		return nil, err
	}
	return stream, nil
}
