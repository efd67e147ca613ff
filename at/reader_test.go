package at

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineReader(t *testing.T) {
	deadline := func() time.Time { return time.Now().Add(100 * time.Millisecond) }

	t.Run("Strips CRLF", func(t *testing.T) {
		lr := newLineReader(bytes.NewBufferString("+CSQ: 10,3\r\nOK\r\n"), 64, CRLF, 5*time.Millisecond)

		line, err := lr.readLine(deadline())
		require.NoError(t, err)
		assert.Equal(t, "+CSQ: 10,3", line)

		line, err = lr.readLine(deadline())
		require.NoError(t, err)
		assert.Equal(t, "OK", line)
	})

	t.Run("Empty line is not no data", func(t *testing.T) {
		lr := newLineReader(bytes.NewBufferString("\r\n"), 64, CRLF, 5*time.Millisecond)

		line, err := lr.readLine(deadline())
		require.NoError(t, err)
		assert.Equal(t, "", line)

		_, err = lr.readLine(deadline())
		assert.True(t, errors.Is(err, errNoData))
	})

	t.Run("Bare LF terminator", func(t *testing.T) {
		lr := newLineReader(bytes.NewBufferString("OK\r\n"), 64, "\n", 5*time.Millisecond)

		line, err := lr.readLine(deadline())
		require.NoError(t, err)
		assert.Equal(t, "OK", line)
	})

	t.Run("Stops at buffer capacity", func(t *testing.T) {
		lr := newLineReader(bytes.NewBufferString("0123456789\r\n"), 4, CRLF, 5*time.Millisecond)

		line, err := lr.readLine(deadline())
		require.NoError(t, err)
		assert.Equal(t, "0123", line)

		line, err = lr.readLine(deadline())
		require.NoError(t, err)
		assert.Equal(t, "4567", line)
	})

	t.Run("Stall returns the partial line", func(t *testing.T) {
		lr := newLineReader(bytes.NewBufferString("+CGA"), 64, CRLF, 5*time.Millisecond)

		line, err := lr.readLine(deadline())
		require.NoError(t, err)
		assert.Equal(t, "+CGA", line)
	})

	t.Run("Never waits past the deadline", func(t *testing.T) {
		lr := newLineReader(bytes.NewBuffer(nil), 64, CRLF, time.Second)

		start := time.Now()
		_, err := lr.readLine(start.Add(20 * time.Millisecond))
		assert.True(t, errors.Is(err, errNoData))
		assert.Less(t, time.Since(start), 200*time.Millisecond)
	})
}
