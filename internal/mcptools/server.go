package mcptools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
)

// Server speaks the MCP protocol over newline-delimited stdio JSON-RPC:
// initialize, tools/list, and tools/call against the Registry.
type Server struct {
	registry *Registry
	info     ServerInfo
	logger   *log.Logger
}

// NewServer creates a Server over registry, identifying itself to clients
// as info.
func NewServer(registry *Registry, info ServerInfo, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{registry: registry, info: info, logger: logger}
}

// Run reads JSON-RPC requests from r and writes responses to w, one per
// line, until r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.handleMessage(ctx, line)
		if resp == nil {
			continue
		}
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("reading request stream: %w", err)
	}
	return nil
}

func (s *Server) handleMessage(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return &Response{JSONRPC: "2.0", Error: &RPCError{Code: ErrCodeParse, Message: "parse error", Data: err.Error()}}
	}

	if req.ID == nil {
		// Notifications (e.g. notifications/initialized) get no response.
		return nil
	}

	result, rpcErr := s.dispatch(ctx, &req)
	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, *RPCError) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req.Params)
	case "tools/list":
		return &ToolsListResult{Tools: s.registry.List()}, nil
	case "tools/call":
		return s.handleToolsCall(ctx, req.Params)
	default:
		return nil, &RPCError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
}

func (s *Server) handleInitialize(params json.RawMessage) (any, *RPCError) {
	var initParams InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "invalid initialize params", Data: err.Error()}
		}
	}
	s.logger.Printf("mcptools: client %q (protocol %s) connected", initParams.ClientInfo.Name, initParams.ProtocolVersion)
	return &InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities:    ServerCapability{Tools: &ToolsCapability{}},
		ServerInfo:      s.info,
	}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var callParams ToolsCallParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "invalid tools/call params", Data: err.Error()}
	}
	tool := s.registry.Get(callParams.Name)
	if tool == nil {
		return nil, &RPCError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("tool not found: %s", callParams.Name)}
	}
	result, err := tool.Execute(ctx, callParams.Arguments)
	if err != nil {
		s.logger.Printf("mcptools: tool %q failed: %v", callParams.Name, err)
		return ErrorResult(fmt.Sprintf("tool execution failed: %v", err)), nil
	}
	return result, nil
}
