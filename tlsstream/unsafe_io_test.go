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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroCopyReader_Cycle(t *testing.T) {
	var r zeroCopyReader
	dst := make([]byte, 8)

	_, err := r.Read(dst)
	require.ErrorIs(t, err, ErrNeedsMoreInput)

	n, err := r.fill(strings.NewReader("abcde"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "abcde", string(dst[:5]))

	n, err = r.Read(dst)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	// Cycle complete: the next read starts a fresh one.
	_, err = r.Read(dst)
	require.ErrorIs(t, err, ErrNeedsMoreInput)
}

func TestZeroCopyReader_StaysInsideRecordedRegion(t *testing.T) {
	var r zeroCopyReader
	backing := bytes.Repeat([]byte{0xAA}, 16)
	region := backing[4:12]

	_, err := r.Read(region)
	require.ErrorIs(t, err, ErrNeedsMoreInput)

	n, err := r.fill(strings.NewReader("01234567 overflow"))
	require.NoError(t, err)
	require.Equal(t, 8, n)

	require.Equal(t, bytes.Repeat([]byte{0xAA}, 4), backing[:4])
	require.Equal(t, []byte("01234567"), backing[4:12])
	require.Equal(t, bytes.Repeat([]byte{0xAA}, 4), backing[12:])
}

func TestZeroCopyReader_ZeroFillPersistsUntilConsumed(t *testing.T) {
	var r zeroCopyReader
	dst := make([]byte, 8)

	_, err := r.Read(dst)
	require.ErrorIs(t, err, ErrNeedsMoreInput)

	n, err := r.fill(bytes.NewReader(nil))
	require.NoError(t, err)
	require.Zero(t, n)

	// End of stream is sticky: no new region is accepted.
	for i := 0; i < 3; i++ {
		n, err = r.Read(dst)
		require.ErrorIs(t, err, io.EOF)
		require.Zero(t, n)
	}
}

func TestZeroCopyReader_FillErrorLeavesCycleArmed(t *testing.T) {
	var r zeroCopyReader
	dst := make([]byte, 8)
	fault := errors.New("timeout")

	_, err := r.Read(dst)
	require.ErrorIs(t, err, ErrNeedsMoreInput)

	_, err = r.fill(&errorReader{fault})
	require.ErrorIs(t, err, fault)

	// The recorded region is still valid, so the fill may be retried.
	n, err := r.fill(strings.NewReader("ok"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "ok", string(dst[:2]))
}

func TestZeroCopyWriter_Cycle(t *testing.T) {
	var w zeroCopyWriter
	var dst bytes.Buffer

	_, err := w.Write([]byte("hello"))
	require.ErrorIs(t, err, ErrNoSpace)

	n, err := w.drain(&dst)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", dst.String())

	// The engine re-enters with the same pending bytes and observes the
	// transport's count.
	n, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	_, err = w.Write([]byte("next"))
	require.ErrorIs(t, err, ErrNoSpace)
}

func TestZeroCopyWriter_DrainErrorRetry(t *testing.T) {
	var w zeroCopyWriter
	fault := errors.New("congested")

	_, err := w.Write([]byte("data"))
	require.ErrorIs(t, err, ErrNoSpace)

	_, err = w.drain(&faultWriter{accept: 0, err: fault})
	require.ErrorIs(t, err, fault)

	var dst bytes.Buffer
	n, err := w.drain(&dst)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "data", dst.String())
}

func TestZeroCopyWriter_IdleDrainIsNoOp(t *testing.T) {
	var w zeroCopyWriter
	var dst bytes.Buffer
	n, err := w.drain(&dst)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, dst.Len())
}
