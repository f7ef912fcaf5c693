package progress

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

type report struct{ read, total int64 }

func TestReader_ReportsEveryInterval(t *testing.T) {
	var reports []report

	src := iotest.OneByteReader(bytes.NewReader(make([]byte, 10)))
	pr := NewReader(src, 10, 4, func(read, total int64) {
		reports = append(reports, report{read, total})
	})

	n, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)
	require.EqualValues(t, 10, n)
	require.EqualValues(t, 10, pr.BytesRead())

	require.Equal(t, []report{{4, 10}, {8, 10}, {10, 10}}, reports)
}

func TestReader_NoDuplicateFinalReport(t *testing.T) {
	var reports []report

	src := iotest.OneByteReader(bytes.NewReader(make([]byte, 8)))
	pr := NewReader(src, -1, 4, func(read, total int64) {
		reports = append(reports, report{read, total})
	})

	_, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)
	require.Equal(t, []report{{4, -1}, {8, -1}}, reports)
}

func TestReader_IntervalDisabled(t *testing.T) {
	calls := 0

	pr := NewReader(bytes.NewReader([]byte("abc123")), 6, 0, func(read, total int64) {
		calls++
		require.EqualValues(t, 6, read)
	})

	data, err := io.ReadAll(pr)
	require.NoError(t, err)
	require.Equal(t, "abc123", string(data))
	require.Equal(t, 1, calls)
}

func TestReader_ErrorDoesNotReportCompletion(t *testing.T) {
	calls := 0

	pr := NewReader(iotest.ErrReader(io.ErrUnexpectedEOF), 10, 0, func(read, total int64) {
		calls++
	})

	_, err := io.ReadAll(pr)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Zero(t, calls)
}
