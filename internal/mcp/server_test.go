package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"taleweave.ai/internal/protocol"
	"taleweave.ai/internal/tools"
)

type stubCatalog struct{}

func (stubCatalog) Describe() []tools.Descriptor {
	return []tools.Descriptor{
		{Name: "content.get_room", Description: "room", InputSchema: tools.Object(map[string]any{"room_id": tools.String("id")}, "room_id")},
		{Name: "world.get_state", Description: "state", InputSchema: tools.Object(nil)},
	}
}

type stubExec struct {
	calls []protocol.ToolCall
}

func (s *stubExec) ExecuteTool(_ context.Context, call protocol.ToolCall) (any, error) {
	s.calls = append(s.calls, call)
	switch {
	case call.Subsystem == "content" && call.Operation == "get_room":
		if call.Params["room_id"] == nil {
			return nil, protocol.Validation("content.get_room: missing required parameter %q", "room_id")
		}
		return map[string]any{"id": call.Params["room_id"], "name": "The Rusty Flagon"}, nil
	default:
		return nil, protocol.UnknownOperation(call.Subsystem, call.Operation)
	}
}

func rpcPost(t *testing.T, base string, payload any, headers map[string]string) (int, rpcResponse) {
	t.Helper()
	b, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, base+"/mcp", bytes.NewReader(b))
	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	var out rpcResponse
	if res.StatusCode == http.StatusOK {
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return res.StatusCode, out
}

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *stubExec) {
	t.Helper()
	exec := &stubExec{}
	cfg.Catalog = stubCatalog{}
	cfg.Executor = exec
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, exec
}

func TestMCP_InitializeAndListTools(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	_, initResp := rpcPost(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"}, nil)
	if initResp.Error != nil {
		t.Fatalf("initialize error: %+v", initResp.Error)
	}
	rm, _ := initResp.Result.(map[string]any)
	if rm["protocolVersion"] != ProtocolVersion {
		t.Fatalf("protocolVersion=%v", rm["protocolVersion"])
	}

	for _, method := range []string{"list_tools", "tools/list"} {
		_, lt := rpcPost(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 2, "method": method}, nil)
		if lt.Error != nil {
			t.Fatalf("%s error: %+v", method, lt.Error)
		}
		rm2, _ := lt.Result.(map[string]any)
		list, _ := rm2["tools"].([]any)
		if len(list) != 2 {
			t.Fatalf("%s: expected 2 tools, got %d", method, len(list))
		}
		first, _ := list[0].(map[string]any)
		if first["name"] != "content.get_room" || first["inputSchema"] == nil {
			t.Fatalf("%s: first tool=%v", method, first)
		}
	}
}

func TestMCP_CallTool(t *testing.T) {
	ts, exec := newTestServer(t, Config{})
	_, resp := rpcPost(t, ts.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      3,
		"method":  "call_tool",
		"params":  map[string]any{"name": "content.get_room", "arguments": map[string]any{"room_id": "tavern"}},
	}, nil)
	if resp.Error != nil {
		t.Fatalf("call_tool error: %+v", resp.Error)
	}
	rm, _ := resp.Result.(map[string]any)
	structured, _ := rm["structuredContent"].(map[string]any)
	if structured["name"] != "The Rusty Flagon" || rm["isError"] != false {
		t.Fatalf("result=%v", rm)
	}
	if len(exec.calls) != 1 || exec.calls[0].Subsystem != "content" || exec.calls[0].Operation != "get_room" {
		t.Fatalf("calls=%+v", exec.calls)
	}
}

func TestMCP_CallToolErrors(t *testing.T) {
	ts, _ := newTestServer(t, Config{})
	cases := []struct {
		name     string
		params   map[string]any
		wantCode int
		wireCode string
	}{
		{"bad name", map[string]any{"name": "nope"}, codeMethodNotFound, ""},
		{"unknown op", map[string]any{"name": "world.teleport"}, codeMethodNotFound, protocol.ErrCodeUnknownOperation},
		{"validation", map[string]any{"name": "content.get_room", "arguments": map[string]any{}}, codeInvalidParams, protocol.ErrCodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp := rpcPost(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 4, "method": "call_tool", "params": tc.params}, nil)
			if resp.Error == nil || resp.Error.Code != tc.wantCode {
				t.Fatalf("error=%+v want code %d", resp.Error, tc.wantCode)
			}
			if tc.wireCode != "" {
				data, _ := resp.Error.Data.(map[string]any)
				if data["code"] != tc.wireCode {
					t.Fatalf("data=%v want %s", resp.Error.Data, tc.wireCode)
				}
			}
		})
	}
}

func TestMCP_HMACAndReplay(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	ts, _ := newTestServer(t, Config{HMACSecret: "topsecret", Now: func() time.Time { return now }})

	payload := map[string]any{"jsonrpc": "2.0", "id": 9, "method": "ping"}
	body, _ := json.Marshal(payload)
	tsStr := strconv.FormatInt(now.UnixMilli(), 10)
	headers := map[string]string{
		headerClientID:  "narrator",
		headerTS:        tsStr,
		headerNonce:     "n-1",
		headerSignature: sign([]byte("topsecret"), canonical(tsStr, "POST", "/mcp", "narrator", "n-1", body)),
	}

	if status, _ := rpcPost(t, ts.URL, payload, nil); status != http.StatusUnauthorized {
		t.Fatalf("unsigned request status=%d", status)
	}
	status, resp := rpcPost(t, ts.URL, payload, headers)
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("signed request status=%d resp=%+v", status, resp)
	}
	if status, _ := rpcPost(t, ts.URL, payload, headers); status != http.StatusUnauthorized {
		t.Fatalf("replay status=%d", status)
	}
}

func TestMCP_NotificationAndMethodCheck(t *testing.T) {
	ts, _ := newTestServer(t, Config{})
	if status, _ := rpcPost(t, ts.URL, map[string]any{"jsonrpc": "2.0", "method": "notifications/initialized"}, nil); status != http.StatusAccepted {
		t.Fatalf("notification status=%d", status)
	}
	res, err := http.Get(ts.URL + "/mcp")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status=%d", res.StatusCode)
	}
}
