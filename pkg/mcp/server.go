package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ToolHandler is the interface for handling tool calls.
type ToolHandler interface {
	GetTools() []Tool
	HandleTool(ctx context.Context, name string, args map[string]interface{}) (*CallToolResult, error)
}

// ResourceProvider is optionally implemented by a ToolHandler that also
// exposes readable resources.
type ResourceProvider interface {
	ListResources() []Resource
	ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error)
}

// ErrResourceNotFound is returned by ReadResource for an unknown URI.
var ErrResourceNotFound = errors.New("resource not found")

// Server is the MCP server that handles protocol messages.
type Server struct {
	transport *Transport
	handler   ToolHandler
	log       *slog.Logger

	mu          sync.Mutex
	initialized bool
	calls       sync.WaitGroup

	serverInfo Implementation
}

// NewServer creates a new MCP server.
func NewServer(reader io.Reader, writer io.Writer, handler ToolHandler, log *slog.Logger) *Server {
	return &Server{
		transport: NewTransport(reader, writer, log),
		handler:   handler,
		log:       log,
		serverInfo: Implementation{
			Name:    "pwa-lifecycle",
			Version: "1.0.0",
		},
	}
}

// Notify sends a notification to the client.
func (s *Server) Notify(method string, params interface{}) error {
	return s.transport.SendNotification(method, params)
}

// Initialized reports whether the client finished the handshake.
func (s *Server) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Run starts the server message loop. Tool calls run concurrently so a
// call may wait on a later one; Run waits for them before returning.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("MCP server starting")

	// In-flight calls are cancelled before Run waits for them.
	ctx, cancel := context.WithCancel(ctx)
	defer s.calls.Wait()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("MCP server shutting down")
			return ctx.Err()
		default:
		}

		req, err := s.transport.ReadMessage()
		if err != nil {
			if err == io.EOF {
				s.log.Info("Client disconnected")
				return nil
			}
			if errors.Is(err, ErrMalformedMessage) {
				s.log.Warn("Malformed message", "error", err)
				if sendErr := s.transport.SendError(nil, ParseError, "Parse error", nil); sendErr != nil {
					return sendErr
				}
				continue
			}
			s.log.Error("Failed to read message", "error", err)
			return err
		}

		if req.Method == MethodToolsCall {
			s.calls.Add(1)
			go func() {
				defer s.calls.Done()
				if err := s.handleToolsCall(ctx, req); err != nil {
					s.log.Error("Failed to handle request", "method", req.Method, "error", err)
				}
			}()
			continue
		}

		if err := s.handleRequest(ctx, req); err != nil {
			s.log.Error("Failed to handle request", "method", req.Method, "error", err)
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req *Request) error {
	s.log.Debug("handling request", "method", req.Method, "id", req.ID)

	switch req.Method {
	case MethodInitialize:
		return s.handleInitialize(req)
	case "initialized", MethodInitialized:
		// Notification, no response needed
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		s.log.Info("Client initialized")
		return nil
	case MethodPing:
		return s.transport.SendResult(req.ID, map[string]interface{}{})
	case MethodToolsList:
		return s.handleToolsList(req)
	case MethodToolsCall:
		return s.handleToolsCall(ctx, req)
	case MethodResourcesList:
		return s.handleResourcesList(req)
	case MethodResourcesRead:
		return s.handleResourcesRead(ctx, req)
	default:
		if req.ID == nil {
			// Unknown notifications are ignored
			return nil
		}
		return s.transport.SendError(req.ID, MethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method), nil)
	}
}

func (s *Server) handleInitialize(req *Request) error {
	var params InitializeParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return s.transport.SendError(req.ID, InvalidParams, "Invalid initialize params", nil)
		}
	}

	s.log.Info("Client initializing",
		"client", params.ClientInfo.Name,
		"version", params.ClientInfo.Version,
		"protocol", params.ProtocolVersion,
	)

	caps := ServerCapabilities{
		Tools: &ToolsCapability{
			ListChanged: false,
		},
	}
	if _, ok := s.handler.(ResourceProvider); ok {
		caps.Resources = &ResourcesCapability{
			Subscribe:   false,
			ListChanged: false,
		}
	}

	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    caps,
		ServerInfo:      s.serverInfo,
	}

	return s.transport.SendResult(req.ID, result)
}

func (s *Server) handleToolsList(req *Request) error {
	tools := s.handler.GetTools()
	result := ListToolsResult{Tools: tools}
	return s.transport.SendResult(req.ID, result)
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) error {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.transport.SendError(req.ID, InvalidParams, "Invalid tool call params", nil)
	}

	s.log.Info("Tool call", "name", params.Name)

	result, err := s.handler.HandleTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Error("Tool call failed", "name", params.Name, "error", err)
		// Return error as tool result, not JSON-RPC error
		return s.transport.SendResult(req.ID, &CallToolResult{
			Content: []ContentBlock{TextContent(fmt.Sprintf("Error: %s", err.Error()))},
			IsError: true,
		})
	}

	return s.transport.SendResult(req.ID, result)
}

func (s *Server) handleResourcesList(req *Request) error {
	resources := []Resource{}
	if p, ok := s.handler.(ResourceProvider); ok {
		resources = append(resources, p.ListResources()...)
	}
	return s.transport.SendResult(req.ID, ListResourcesResult{Resources: resources})
}

func (s *Server) handleResourcesRead(ctx context.Context, req *Request) error {
	var params ReadResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.transport.SendError(req.ID, InvalidParams, "Invalid resource read params", nil)
	}

	p, ok := s.handler.(ResourceProvider)
	if !ok {
		return s.transport.SendError(req.ID, ResourceNotFound, fmt.Sprintf("Resource not found: %s", params.URI), nil)
	}

	result, err := p.ReadResource(ctx, params.URI)
	if err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			return s.transport.SendError(req.ID, ResourceNotFound, fmt.Sprintf("Resource not found: %s", params.URI), nil)
		}
		return s.transport.SendError(req.ID, InternalError, err.Error(), nil)
	}
	return s.transport.SendResult(req.ID, result)
}
