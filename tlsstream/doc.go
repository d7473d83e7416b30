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

/*
Package tlsstream bridges a synchronous, pull-based secure-record engine
onto an arbitrary byte-stream transport.

The engine (see [Engine]) never performs I/O itself: it consumes
ciphertext from an io.Reader, produces ciphertext into an io.Writer, and
exchanges plaintext with the application through plain byte-slice calls.
[Stream] supplies those readers and writers from one of two buffering
strategies, drives the handshake, and loops the engine against the
transport for reads, writes, flushes and shutdown.

The default, copying strategy stages bytes in a fixed 16 KiB buffer per
direction; the strategy's synchronous side reports [ErrNeedsMoreInput] or
[ErrNoSpace] when the engine cannot make progress until the transport is
touched, and the stream reacts by filling or draining. The opt-in
zero-copy strategy ([WithZeroCopyBuffers]) records the engine's own
buffers instead and runs transport I/O directly against them.

A [Stream] can be decomposed with [Stream.Split] into a [ReadHalf] and a
[WriteHalf] driven by independent goroutines, and recombined with
[Reunite]. [Connector] is the client entry point: it builds an engine
session from a [ClientConfig] and returns a stream with the handshake
already completed.

The package implements no cryptography and no certificate policy; those
belong to the engine. Package psk provides a small pre-shared-key engine
used by the tests.
*/
package tlsstream
