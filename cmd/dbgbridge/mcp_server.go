package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sebastianm/dbgbridge/internal/backend"
	"github.com/sebastianm/dbgbridge/internal/bridge"
	"github.com/sebastianm/dbgbridge/internal/session"
)

type mcpServer struct {
	server *mcp.Server
	log    *slog.Logger
	router *bridge.Router
}

func newMCPServer(log *slog.Logger, router *bridge.Router) *mcpServer {
	s := &mcpServer{
		log:    log,
		router: router,
	}
	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "dbgbridge",
		Version: "1.0.0",
	}, nil)
	s.registerTools()
	return s
}

func (s *mcpServer) Run(ctx context.Context) error {
	s.log.Info("mcp serve start")
	return s.server.Run(ctx, &mcp.IOTransport{
		Reader: os.Stdin,
		Writer: os.Stdout,
	})
}

type createSessionArgs struct {
	Backend string   `json:"backend" jsonschema:"Debugger backend: gdb, lldb or pdb."`
	Target  string   `json:"target,omitempty" jsonschema:"Program or script to debug. Required for pdb, optional otherwise."`
	Args    []string `json:"args,omitempty" jsonschema:"Arguments passed to the debuggee."`
}

type createSessionResult struct {
	SessionID string `json:"session_id"`
	Backend   string `json:"backend"`
	Banner    string `json:"banner,omitempty"`
}

type loadProgramArgs struct {
	SessionID string   `json:"session_id" jsonschema:"Target session ID."`
	Path      string   `json:"path" jsonschema:"Path to the program to load."`
	Args      []string `json:"args,omitempty" jsonschema:"Arguments passed to the debuggee."`
}

type executeCommandArgs struct {
	SessionID string `json:"session_id" jsonschema:"Target session ID."`
	Command   string `json:"command" jsonschema:"Raw debugger command text."`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"Per-command deadline in milliseconds. 0 uses the engine default."`
}

type sessionOnlyArgs struct {
	SessionID string `json:"session_id" jsonschema:"Target session ID."`
}

type waitForStopArgs struct {
	SessionID string `json:"session_id" jsonschema:"Target session ID."`
	Pattern   string `json:"pattern,omitempty" jsonschema:"Substring that marks the debuggee as stopped. Empty uses the backend's own stop phrasings."`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"Wait deadline in milliseconds. 0 uses the engine default."`
}

type commandResult struct {
	Output    string `json:"output"`
	Truncated bool   `json:"truncated,omitempty"`
	Signal    *int   `json:"signal,omitempty"`
}

type listSessionsResult struct {
	Sessions []session.Info `json:"sessions"`
}

type terminateSessionResult struct {
	SessionID string `json:"session_id"`
}

func (s *mcpServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "create_session",
		Description: "Start a new debugger session for the given backend.",
	}, s.handleCreateSession)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "load_program",
		Description: "Load a program into an existing session.",
	}, s.handleLoadProgram)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "execute_command",
		Description: "Run a raw debugger command and return its full output.",
	}, s.handleExecuteCommand)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "continue_execution",
		Description: "Resume the debuggee in the given session.",
	}, s.handleContinue)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "wait_for_stop",
		Description: "Wait until the debuggee stops (breakpoint, signal or exit).",
	}, s.handleWaitForStop)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List all live debugger sessions.",
	}, s.handleListSessions)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "terminate_session",
		Description: "Terminate a session and its debugger process.",
	}, s.handleTerminateSession)
}

func (s *mcpServer) handleCreateSession(ctx context.Context, _ *mcp.CallToolRequest, args createSessionArgs) (*mcp.CallToolResult, createSessionResult, error) {
	s.log.Info("tool call", "tool", "create_session", "backend", args.Backend)
	b, err := backend.Parse(args.Backend)
	if err != nil {
		return nil, createSessionResult{}, err
	}
	info, err := s.router.CreateSession(ctx, b, session.CreateOpts{
		Target: args.Target,
		Args:   args.Args,
	})
	if err != nil {
		return nil, createSessionResult{}, err
	}
	return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "Created session " + info.ID},
			},
		}, createSessionResult{
			SessionID: info.ID,
			Backend:   string(info.Backend),
			Banner:    info.Banner,
		}, nil
}

func (s *mcpServer) handleLoadProgram(ctx context.Context, _ *mcp.CallToolRequest, args loadProgramArgs) (*mcp.CallToolResult, commandResult, error) {
	s.log.Info("tool call", "tool", "load_program", "session_id", args.SessionID)
	if args.Path == "" {
		return nil, commandResult{}, fmt.Errorf("path is required")
	}
	res, err := s.router.LoadProgram(ctx, args.SessionID, args.Path, args.Args)
	return s.commandReply(res, err)
}

func (s *mcpServer) handleExecuteCommand(ctx context.Context, _ *mcp.CallToolRequest, args executeCommandArgs) (*mcp.CallToolResult, commandResult, error) {
	s.log.Info("tool call", "tool", "execute_command", "session_id", args.SessionID)
	if args.Command == "" {
		return nil, commandResult{}, fmt.Errorf("command is required")
	}
	timeout := time.Duration(args.TimeoutMS) * time.Millisecond
	res, err := s.router.ExecuteCommandTimeout(ctx, args.SessionID, args.Command, timeout)
	return s.commandReply(res, err)
}

func (s *mcpServer) handleContinue(ctx context.Context, _ *mcp.CallToolRequest, args sessionOnlyArgs) (*mcp.CallToolResult, commandResult, error) {
	s.log.Info("tool call", "tool", "continue_execution", "session_id", args.SessionID)
	res, err := s.router.ContinueExecution(ctx, args.SessionID)
	return s.commandReply(res, err)
}

func (s *mcpServer) handleWaitForStop(ctx context.Context, _ *mcp.CallToolRequest, args waitForStopArgs) (*mcp.CallToolResult, commandResult, error) {
	s.log.Info("tool call", "tool", "wait_for_stop", "session_id", args.SessionID)
	timeout := time.Duration(args.TimeoutMS) * time.Millisecond
	res, err := s.router.WaitForStop(ctx, args.SessionID, args.Pattern, timeout)
	return s.commandReply(res, err)
}

func (s *mcpServer) handleListSessions(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, listSessionsResult, error) {
	s.log.Info("tool call", "tool", "list_sessions")
	sessions := s.router.ListSessions()
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%d live sessions", len(sessions))},
		},
	}, listSessionsResult{Sessions: sessions}, nil
}

func (s *mcpServer) handleTerminateSession(ctx context.Context, _ *mcp.CallToolRequest, args sessionOnlyArgs) (*mcp.CallToolResult, terminateSessionResult, error) {
	s.log.Info("tool call", "tool", "terminate_session", "session_id", args.SessionID)
	if err := s.router.TerminateSession(ctx, args.SessionID); err != nil {
		return nil, terminateSessionResult{}, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Terminated session " + args.SessionID},
		},
	}, terminateSessionResult{SessionID: args.SessionID}, nil
}

// commandReply renders a command result. A timeout still carries the output
// collected before the interrupt, so it is reported as a result rather than
// a protocol error.
func (s *mcpServer) commandReply(res bridge.CommandResult, err error) (*mcp.CallToolResult, commandResult, error) {
	out := commandResult{
		Output:    string(res.RawText),
		Truncated: res.Truncated,
		Signal:    res.Signal,
	}
	switch {
	case err == nil:
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: out.Output},
			},
		}, out, nil
	case errors.Is(err, session.ErrCommandTimeout):
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "Command timed out; partial output:\n" + out.Output},
			},
			IsError: true,
		}, out, nil
	default:
		return nil, commandResult{}, err
	}
}
