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

// bufferSize is the fixed capacity of each buffering strategy's staging
// region. It matches the maximum TLS record payload size, so a full record
// always fits in a single fill or drain cycle.
const bufferSize = 16 * 1024

// buffer is a fixed-capacity byte region with read and write cursors.
// Bytes between the cursors are pending; bytes past the write cursor are
// free. It never resizes and is owned by exactly one strategy instance.
type buffer struct {
	read  int
	write int
	data  [bufferSize]byte
}

func (b *buffer) len() int {
	return b.write - b.read
}

func (b *buffer) empty() bool {
	return b.len() == 0
}

// available returns the free space at the tail of the region.
func (b *buffer) available() int {
	return len(b.data) - b.write
}

func (b *buffer) full() bool {
	return b.available() == 0
}

// pending returns the bytes between the cursors, without consuming them.
func (b *buffer) pending() []byte {
	return b.data[b.read:b.write]
}

// free returns the writable tail of the region.
func (b *buffer) free() []byte {
	return b.data[b.write:]
}

// advance consumes n pending bytes. Both cursors snap back to the start of
// the region once it is fully drained, so a quiescent buffer always refills
// from offset zero. Advancing past the pending length is a programming
// error.
func (b *buffer) advance(n int) {
	if n > b.len() {
		panic("tlsstream: advance past buffered data")
	}
	b.read += n
	if b.read == b.write {
		b.read = 0
		b.write = 0
	}
}
