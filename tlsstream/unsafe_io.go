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

// The zero-copy strategies implement the same four-call contract as the
// copying ones but never stage bytes of their own. The synchronous call
// records the engine's buffer and signals would-block; the transport
// operation then runs directly against that memory, and the next
// synchronous call observes the resulting count.
//
// Precondition: the recorded buffer must stay valid and untouched by the
// engine from the moment it is recorded until the paired fill or drain
// completes, and the engine must re-enter the synchronous call with the
// same pending bytes. [Stream] upholds the timing half of this by pairing
// each recording with its transport operation inside one blocking call;
// the aliasing half is an obligation on the engine, which is why the
// copying strategies are the default and [WithZeroCopyBuffers] is an
// explicit opt-in.

// zcState tracks one record/complete/consume cycle per direction.
type zcState int

const (
	// zcIdle: no region recorded, next synchronous call records one.
	zcIdle zcState = iota
	// zcArmed: a region is recorded, the transport operation is pending.
	zcArmed
	// zcFilled: the transport operation completed; its count awaits the
	// next synchronous call.
	zcFilled
)

// zeroCopyReader records the engine's destination slice and lets fill read
// transport bytes straight into it.
type zeroCopyReader struct {
	state  zcState
	region []byte
	n      int
}

var _ readSource = (*zeroCopyReader)(nil)

func (r *zeroCopyReader) Read(p []byte) (int, error) {
	if r.state == zcFilled {
		n := r.n
		if n == 0 {
			// End of stream. Stay filled so every subsequent read keeps
			// observing it rather than re-arming a dead cycle.
			return 0, io.EOF
		}
		r.state = zcIdle
		r.region = nil
		return n, nil
	}
	r.region = p
	r.state = zcArmed
	return 0, ErrNeedsMoreInput
}

func (r *zeroCopyReader) fill(transport io.Reader) (int, error) {
	switch r.state {
	case zcArmed:
		n, err := transport.Read(r.region)
		if err != nil && err != io.EOF {
			// Leave the cycle armed; the caller may retry the fill.
			return n, err
		}
		r.state = zcFilled
		r.n = n
		return n, nil
	case zcFilled:
		return r.n, nil
	default:
		return 0, nil
	}
}

// zeroCopyWriter records the engine's pending ciphertext slice and lets
// drain write it to the transport without an intermediate copy. The count
// the transport accepted is handed back to the engine on its next write of
// the same pending bytes.
type zeroCopyWriter struct {
	state  zcState
	region []byte
	n      int
}

var _ writeSink = (*zeroCopyWriter)(nil)

func (w *zeroCopyWriter) Write(p []byte) (int, error) {
	if w.state == zcFilled {
		n := w.n
		w.state = zcIdle
		w.region = nil
		return n, nil
	}
	w.region = p
	w.state = zcArmed
	return 0, ErrNoSpace
}

func (w *zeroCopyWriter) drain(transport io.Writer) (int, error) {
	switch w.state {
	case zcArmed:
		n, err := transport.Write(w.region)
		if err == nil && n == 0 && len(w.region) > 0 {
			err = io.ErrShortWrite
		}
		if err != nil {
			return n, err
		}
		w.state = zcFilled
		w.n = n
		return n, nil
	case zcFilled:
		return w.n, nil
	default:
		return 0, nil
	}
}
