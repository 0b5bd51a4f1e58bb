package console

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageWritesLine(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out)

	c.Message("hello")

	assert.Equal(t, "hello\n", out.String())
}

func TestReadLine(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader("first\nsecond\n"), &out)

	line, err := c.ReadLine("> ")
	require.NoError(t, err)
	assert.Equal(t, "first", line)

	line, err = c.ReadLine("> ")
	require.NoError(t, err)
	assert.Equal(t, "second", line)

	_, err = c.ReadLine("> ")
	assert.ErrorIs(t, err, io.EOF)

	assert.Contains(t, out.String(), "> ")
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		def   string
		want  bool
	}{
		{"explicit yes", "y\n", "n", true},
		{"explicit no", "n\n", "y", false},
		{"empty uses default yes", "\n", "y", true},
		{"empty uses default no", "\n", "n", false},
		{"uppercase yes", "Y\n", "n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			c := New(strings.NewReader(tt.input), &out)

			got, err := c.Confirm("proceed?", tt.def)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
