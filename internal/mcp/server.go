// Package mcp exposes the tool registry as a JSON-RPC endpoint that model
// hosts can drive: initialize, list_tools and call_tool. Requests are
// optionally HMAC-signed; unsigned servers only answer loopback clients.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"taleweave.ai/internal/protocol"
	"taleweave.ai/internal/tools"
)

const (
	ProtocolVersion = "2024-11-05"
	maxBody         = 4 << 20
)

// Catalog lists the callable tools; *tools.Registry implements it.
type Catalog interface {
	Describe() []tools.Descriptor
}

// Executor runs one call; *orchestrator.Orchestrator implements it.
type Executor interface {
	ExecuteTool(ctx context.Context, call protocol.ToolCall) (any, error)
}

type Config struct {
	Catalog         Catalog
	Executor        Executor
	HMACSecret      string
	AllowLegacyHMAC bool
	ServerVersion   string
	Logger          *zap.Logger
	Now             func() time.Time
}

type Server struct {
	catalog     Catalog
	exec        Executor
	secret      []byte
	allowLegacy bool
	seen        *seenSignatures
	version     string
	log         *zap.Logger
	now         func() time.Time
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("nil catalog")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("nil executor")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = protocol.Version
	}
	s := &Server{
		catalog:     cfg.Catalog,
		exec:        cfg.Executor,
		allowLegacy: cfg.AllowLegacyHMAC,
		version:     cfg.ServerVersion,
		log:         cfg.Logger,
		now:         cfg.Now,
	}
	if secret := strings.TrimSpace(cfg.HMACSecret); secret != "" {
		s.secret = []byte(secret)
		s.seen = newSeenSignatures(0)
	}
	return s, nil
}

// Signed reports whether requests must carry an HMAC signature.
func (s *Server) Signed() bool { return len(s.secret) > 0 }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/mcp", s.handleMCP)
	return mux
}

func (s *Server) handleMCP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(rw, "bad body", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	clientID := strings.TrimSpace(r.Header.Get(headerClientID))
	if s.Signed() {
		vr := verify(r, body, s.secret, s.allowLegacy, s.now())
		if vr.HTTPStatus != 0 {
			s.log.Warn("mcp: rejected request", zap.String("remote", r.RemoteAddr), zap.String("reason", vr.Message))
			http.Error(rw, vr.Message, vr.HTTPStatus)
			return
		}
		switch s.seen.record(vr, s.now()) {
		case seenReplay:
			s.log.Warn("mcp: replayed request", zap.String("client", vr.ClientID))
			http.Error(rw, "replayed request", http.StatusUnauthorized)
			return
		case seenFull:
			s.log.Warn("mcp: signature ledger full", zap.String("client", vr.ClientID))
			http.Error(rw, "too many requests", http.StatusTooManyRequests)
			return
		}
		clientID = vr.ClientID
	} else if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden: non-loopback client", http.StatusForbidden)
		return
	}
	if clientID == "" {
		clientID = "default"
	}

	rw.Header().Set("content-type", "application/json")
	req, err := parseRPCRequest(body)
	if err != nil {
		_ = json.NewEncoder(rw).Encode(rpcErr(nil, codeParseError, "bad jsonrpc request", err.Error()))
		return
	}
	if len(req.ID) == 0 {
		// Notification: nothing to answer.
		rw.WriteHeader(http.StatusAccepted)
		return
	}
	resp := s.dispatch(r.Context(), clientID, req)
	_ = json.NewEncoder(rw).Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, clientID string, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return rpcOK(req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			"serverInfo": map[string]any{"name": "taleweave", "version": s.version},
		})

	case "ping":
		return rpcOK(req.ID, map[string]any{})

	case "list_tools", "tools/list":
		return rpcOK(req.ID, map[string]any{"tools": s.toolsList()})

	case "call_tool", "tools/call":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if len(req.Params) == 0 {
			return rpcErr(req.ID, codeInvalidParams, "missing params", nil)
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return rpcErr(req.ID, codeInvalidParams, "bad params", err.Error())
		}
		sub, op, ok := tools.SplitName(p.Name)
		if !ok {
			return rpcErr(req.ID, codeMethodNotFound, "tool not found", map[string]any{"name": p.Name})
		}
		out, err := s.exec.ExecuteTool(ctx, protocol.ToolCall{Subsystem: sub, Operation: op, Params: p.Arguments})
		if err != nil {
			s.log.Debug("mcp: tool failed", zap.String("client", clientID), zap.String("tool", p.Name), zap.Error(err))
			return toolErr(req.ID, err)
		}
		return rpcOK(req.ID, toolResult(out))

	default:
		return rpcErr(req.ID, codeMethodNotFound, "method not found", nil)
	}
}

func (s *Server) toolsList() []map[string]any {
	descs := s.catalog.Describe()
	out := make([]map[string]any, 0, len(descs))
	for _, d := range descs {
		out = append(out, map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"inputSchema": d.InputSchema,
		})
	}
	return out
}

// toolResult wraps a handler result as MCP text content, keeping the raw
// value alongside for structured clients.
func toolResult(v any) map[string]any {
	text := "null"
	if b, err := json.Marshal(v); err == nil {
		text = string(b)
	}
	return map[string]any{
		"content":           []map[string]any{{"type": "text", "text": text}},
		"structuredContent": v,
		"isError":           false,
	}
}
