package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"taleweave.ai/internal/config"
	"taleweave.ai/internal/protocol"
	"taleweave.ai/internal/transcript"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.GameDir = "../../internal/content/testdata/crypt"
	cfg.SaveDir = t.TempDir()
	cfg.WatchContent = false
	cfg.MCPListen = ""
	cfg.Transcript.FlushInterval = 0
	return cfg
}

func runTool(t *testing.T, rt *gameRuntime, sub, op string, params map[string]any) any {
	t.Helper()
	res, err := rt.orch.ExecuteTool(context.Background(), protocol.ToolCall{Subsystem: sub, Operation: op, Params: params})
	if err != nil {
		t.Fatalf("%s.%s: %v", sub, op, err)
	}
	return res
}

func TestRuntime_ResumesAcrossRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	rt, err := openRuntime(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	runTool(t, rt, "world", "move_party", map[string]any{"room_id": "cellar"})
	runTool(t, rt, "narrative", "record_turn", map[string]any{
		"player_action": "go down",
		"narrative":     "The stairs creak under your boots.",
	})
	runTool(t, rt, "world", "save_state", map[string]any{"message": "cellar"})
	rt.Close()

	rt, err = openRuntime(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt.Close()
	if got := rt.world.State().CurrentRoom; got != "cellar" {
		t.Fatalf("resumed room=%q want cellar", got)
	}
	if rt.world.TurnCount() != 1 {
		t.Fatalf("turn count=%d want 1", rt.world.TurnCount())
	}
	rec := runTool(t, rt, "narrative", "record_turn", map[string]any{"player_action": "look around"}).(transcript.TurnRecord)
	if rec.TurnNumber != 2 {
		t.Fatalf("turn number=%d want 2", rec.TurnNumber)
	}
	if rt.transcript.PlayerName() != "Hero" {
		t.Fatalf("player=%q want manifest name", rt.transcript.PlayerName())
	}
}

func TestRuntime_ChecksOutConfiguredBranch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Branch = "alt"

	rt, err := openRuntime(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	branch, err := rt.repo.CurrentBranch(ctx)
	if err != nil || branch != "alt" {
		t.Fatalf("branch=%q err=%v", branch, err)
	}
}

func TestRuntime_MissingContentFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.GameDir = t.TempDir()
	if _, err := openRuntime(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected error for empty game dir")
	}
}

func TestMux_HealthAndTools(t *testing.T) {
	rt, err := openRuntime(context.Background(), testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	srv := httptest.NewServer(newMux(rt))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/v1/tools")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "move_party") {
		t.Fatalf("tools body missing move_party: %s", body)
	}
}

func TestEmbeddedMCP_ListenRules(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8090": true,
		"localhost:1":    true,
		"[::1]:9":        true,
		"0.0.0.0:8090":   false,
		":8090":          false,
		"10.0.0.5:8090":  false,
	}
	for addr, want := range cases {
		if got := isLoopbackListenAddress(addr); got != want {
			t.Errorf("isLoopbackListenAddress(%q)=%v want %v", addr, got, want)
		}
	}

	cfg := testConfig(t)
	cfg.MCPListen = "0.0.0.0:0"
	if _, err := startEmbeddedMCP(context.Background(), cfg, nil, zap.NewNop()); err == nil {
		t.Fatalf("expected refusal without hmac secret")
	}
}

func TestEmbeddedMCP_ServesLoopback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testConfig(t)
	rt, err := openRuntime(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	cfg.MCPListen = "127.0.0.1:0"
	em, err := startEmbeddedMCP(ctx, cfg, rt, zap.NewNop())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer em.Close()
	resp, err := http.Get("http://" + em.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}
}
