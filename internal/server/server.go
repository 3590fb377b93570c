package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/localrivet/gomcp/server"

	"github.com/localrivet/codebridge/internal/errortypes"
	"github.com/localrivet/codebridge/internal/sessionstore"
	"github.com/localrivet/codebridge/internal/tools"
)

// DefaultCallTimeout bounds how long one tool call may wait for the store.
const DefaultCallTimeout = 30 * time.Second

// MCPSessionToolServer implements SessionToolServer over a session store.
type MCPSessionToolServer struct {
	store       sessionstore.SessionStore
	logger      *slog.Logger
	callTimeout time.Duration
	mcpServer   server.Server
}

// Option configures an MCPSessionToolServer.
type Option func(*MCPSessionToolServer)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *MCPSessionToolServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) Option {
	return func(s *MCPSessionToolServer) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// NewSessionToolServer creates a new MCPSessionToolServer instance.
func NewSessionToolServer(store sessionstore.SessionStore, opts ...Option) *MCPSessionToolServer {
	s := &MCPSessionToolServer{
		store:       store,
		logger:      slog.Default(),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize registers the session tools on a new MCP server.
func (s *MCPSessionToolServer) Initialize() error {
	s.logger.Info("Initializing MCP session tool server")

	if s.store == nil {
		return errortypes.ConfigError(errors.New("missing session store"), "server initialization failed")
	}

	srv := server.NewServer("codebridge")

	srv = srv.Tool(tools.ToolAppendFrame, "Append a message to a session's memory",
		s.handleAppendFrame)

	srv = srv.Tool(tools.ToolSearchFrames, "Search stored session messages by free text; name:value terms filter on tags",
		s.handleSearchFrames)

	srv = srv.Tool(tools.ToolGetSessionFrames, "Return the messages recorded for a session",
		s.handleGetSessionFrames)

	s.mcpServer = srv
	s.logger.Info("MCP session tool server initialized", "tool_count", 3, "store", s.store.Path())
	return nil
}

// Start serves tool calls over stdio.
func (s *MCPSessionToolServer) Start() error {
	if s.mcpServer == nil {
		return errortypes.ConfigError(errors.New("server not initialized"), "cannot start server")
	}

	s.logger.Info("Starting MCP session tool server")
	return s.mcpServer.AsStdio().Run()
}

// Stop gracefully shuts down the MCP server.
func (s *MCPSessionToolServer) Stop() error {
	s.logger.Info("Stopping MCP session tool server")
	// The stdio transport exits when stdin is closed.
	return nil
}

func (s *MCPSessionToolServer) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.callTimeout)
}

// report logs err and returns its message and code for the response.
func (s *MCPSessionToolServer) report(tool string, err error) (string, string) {
	resp := errorToResponse(err)
	errortypes.LogError(s.logger.With("tool", tool), err)
	return resp.Message, resp.Code
}

// handleAppendFrame handles the append_frame MCP tool call.
func (s *MCPSessionToolServer) handleAppendFrame(_ *server.Context, req tools.AppendFrameRequest) (tools.AppendFrameResponse, error) {
	s.logger.Info("Processing append_frame request", "session_id", req.SessionID, "content_length", len(req.Content))

	if err := req.Validate(); err != nil {
		msg, code := s.report(tools.ToolAppendFrame, errortypes.ValidationError(err, "invalid append_frame request"))
		return tools.AppendFrameResponse{Status: tools.StatusError, Error: msg, Code: code}, nil
	}

	ctx, cancel := s.callContext()
	defer cancel()

	if err := s.store.AppendFrame(ctx, req.Content, req.SessionID); err != nil {
		msg, code := s.report(tools.ToolAppendFrame, err)
		return tools.AppendFrameResponse{Status: tools.StatusError, Error: msg, Code: code}, nil
	}

	return tools.AppendFrameResponse{Status: tools.StatusSuccess}, nil
}

// handleSearchFrames handles the search_frames MCP tool call.
func (s *MCPSessionToolServer) handleSearchFrames(_ *server.Context, req tools.SearchFramesRequest) (tools.FramesResponse, error) {
	s.logger.Info("Processing search_frames request", "query", req.Query)

	if err := req.Validate(); err != nil {
		msg, code := s.report(tools.ToolSearchFrames, errortypes.ValidationError(err, "invalid search_frames request"))
		return tools.FramesResponse{Status: tools.StatusError, Results: []string{}, Error: msg, Code: code}, nil
	}

	ctx, cancel := s.callContext()
	defer cancel()

	results, err := s.store.SearchText(ctx, req.Query)
	if err != nil {
		msg, code := s.report(tools.ToolSearchFrames, err)
		return tools.FramesResponse{Status: tools.StatusError, Results: []string{}, Error: msg, Code: code}, nil
	}

	s.logger.Debug("search_frames returned results", "count", len(results))
	return tools.FramesResponse{Status: tools.StatusSuccess, Results: results}, nil
}

// handleGetSessionFrames handles the get_session_frames MCP tool call.
func (s *MCPSessionToolServer) handleGetSessionFrames(_ *server.Context, req tools.GetSessionFramesRequest) (tools.FramesResponse, error) {
	s.logger.Info("Processing get_session_frames request", "session_id", req.SessionID)

	if err := req.Validate(); err != nil {
		msg, code := s.report(tools.ToolGetSessionFrames, errortypes.ValidationError(err, "invalid get_session_frames request"))
		return tools.FramesResponse{Status: tools.StatusError, Results: []string{}, Error: msg, Code: code}, nil
	}

	ctx, cancel := s.callContext()
	defer cancel()

	results, err := s.store.GetSessionFrames(ctx, req.SessionID)
	if err != nil {
		msg, code := s.report(tools.ToolGetSessionFrames, err)
		return tools.FramesResponse{Status: tools.StatusError, Results: []string{}, Error: msg, Code: code}, nil
	}

	return tools.FramesResponse{Status: tools.StatusSuccess, Results: results}, nil
}
