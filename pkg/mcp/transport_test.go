package mcp

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_ReadMessage(t *testing.T) {
	input := "\n  \n{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"ping\"}\n{oops}\n{\"jsonrpc\":\"2.0\",\"method\":\"last\"}"
	tr := NewTransport(strings.NewReader(input), io.Discard, quietLogger())

	req, err := tr.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", req.Method)

	_, err = tr.ReadMessage()
	assert.True(t, errors.Is(err, ErrMalformedMessage))

	// Final line without a trailing newline
	req, err = tr.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "last", req.Method)

	_, err = tr.ReadMessage()
	assert.Equal(t, io.EOF, err)
}

func TestTransport_SendNotification(t *testing.T) {
	var out bytes.Buffer
	tr := NewTransport(strings.NewReader(""), &out, quietLogger())

	require.NoError(t, tr.SendNotification(NotifyReload, nil))
	require.NoError(t, tr.SendNotification(NotifyInstallPrompt, map[string]string{"source": "test"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"jsonrpc":"2.0","method":"notifications/reload"}`, lines[0])
	assert.Equal(t, `{"jsonrpc":"2.0","method":"notifications/install_prompt","params":{"source":"test"}}`, lines[1])
}

func TestTransport_SendError(t *testing.T) {
	var out bytes.Buffer
	tr := NewTransport(strings.NewReader(""), &out, quietLogger())

	require.NoError(t, tr.SendError(3, MethodNotFound, "Unknown method: x", nil))
	assert.Equal(t, `{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"Unknown method: x"}}`+"\n", out.String())
}
