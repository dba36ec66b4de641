package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrMalformedMessage is returned by ReadMessage when a line is not valid JSON-RPC.
var ErrMalformedMessage = errors.New("malformed message")

// Transport handles stdio communication for MCP.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	log    *slog.Logger
	mu     sync.Mutex
}

// NewTransport creates a new stdio transport.
func NewTransport(reader io.Reader, writer io.Writer, log *slog.Logger) *Transport {
	return &Transport{
		reader: bufio.NewReader(reader),
		writer: writer,
		log:    log,
	}
}

// ReadMessage reads one line-delimited JSON-RPC message.
func (t *Transport) ReadMessage() (*Request, error) {
	var line []byte
	for len(line) == 0 {
		raw, err := t.reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		line = bytes.TrimSpace(raw)
		if err == io.EOF && len(line) == 0 {
			return nil, io.EOF
		}
	}

	t.log.Debug("received message", "raw", string(line))

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	return &req, nil
}

// WriteMessage writes a JSON-RPC response. Safe for concurrent use.
func (t *Transport) WriteMessage(resp *Response) error {
	return t.writeLine(resp, "response")
}

// SendResult sends a successful response.
func (t *Transport) SendResult(id interface{}, result interface{}) error {
	return t.WriteMessage(&Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

// SendError sends an error response.
func (t *Transport) SendError(id interface{}, code int, message string, data interface{}) error {
	return t.WriteMessage(&Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

// SendNotification sends a notification (no id, no response expected).
func (t *Transport) SendNotification(method string, params interface{}) error {
	return t.writeLine(&Notification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}, "notification")
}

// writeLine writes one message followed by a newline. Lines from concurrent
// callers never interleave.
func (t *Transport) writeLine(msg interface{}, kind string) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()

	t.log.Debug("sending message", "kind", kind, "raw", string(data[:len(data)-1]))

	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", kind, err)
	}
	return nil
}
