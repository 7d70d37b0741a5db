// Package ws carries tool calls over a websocket. Each connection sends
// CALL, BATCH or ASSEMBLE messages and receives a RESULT per request plus
// every STATUS event the hub broadcasts.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"taleweave.ai/internal/protocol"
)

// Executor is the orchestrator surface the transport needs.
type Executor interface {
	ExecuteTool(ctx context.Context, call protocol.ToolCall) (any, error)
	ExecuteBatch(ctx context.Context, calls []protocol.ToolCall) protocol.BatchResult
	AssembleContext(ctx context.Context, kind string, params map[string]any) (protocol.Assembly, error)
}

type Server struct {
	exec Executor
	hub  *Hub
	log  *zap.Logger

	upgrader websocket.Upgrader
}

const (
	outQueue     = 64
	writeTimeout = 5 * time.Second
	readTimeout  = 5 * time.Minute
)

func NewServer(exec Executor, hub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	return &Server{
		exec: exec,
		hub:  hub,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, outQueue)
		remove := s.hub.add(out)
		defer remove()
		s.log.Debug("ws: client connected", zap.String("remote", r.RemoteAddr))

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						writeErr <- err
						return
					}
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			resp, ok := s.handle(ctx, msg)
			if !ok {
				continue
			}
			b, err := json.Marshal(resp)
			if err != nil {
				s.log.Warn("ws: encode result", zap.String("req_id", resp.ReqID), zap.Error(err))
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Debug("ws: client disconnected", zap.String("remote", r.RemoteAddr))
	}
}

// handle decodes one request and runs it. Messages that are not JSON or carry
// no type are ignored.
func (s *Server) handle(ctx context.Context, msg []byte) (protocol.ResultMsg, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type == "" {
		return protocol.ResultMsg{}, false
	}
	res := protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version, ReqID: base.ReqID}
	if base.ProtocolVersion != protocol.Version {
		res.Payload = protocol.Failed(protocol.Validation("bad protocol_version %q", base.ProtocolVersion))
		return res, true
	}

	switch base.Type {
	case protocol.TypeCall:
		var m protocol.CallMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			res.Payload = protocol.Failed(protocol.Validation("bad CALL: %v", err))
			break
		}
		out, err := s.exec.ExecuteTool(ctx, m.Call)
		if err != nil {
			res.Payload = protocol.Failed(err)
			break
		}
		res.Payload = protocol.OK(out)

	case protocol.TypeBatch:
		var m protocol.BatchMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			res.Payload = protocol.Failed(protocol.Validation("bad BATCH: %v", err))
			break
		}
		res.Payload = s.exec.ExecuteBatch(ctx, m.Calls)

	case protocol.TypeAssemble:
		var m protocol.AssembleMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			res.Payload = protocol.Failed(protocol.Validation("bad ASSEMBLE: %v", err))
			break
		}
		a, err := s.exec.AssembleContext(ctx, m.Kind, m.Params)
		if err != nil {
			res.Payload = protocol.Failed(err)
			break
		}
		res.Payload = a

	default:
		res.Payload = protocol.Failed(protocol.Validation("unknown message type %q", base.Type))
	}
	return res, true
}
