package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"taleweave.ai/internal/config"
	"taleweave.ai/internal/mcp"
)

type embeddedMCP struct {
	httpSrv *http.Server
	ln      net.Listener

	closeOnce sync.Once
}

func (e *embeddedMCP) Addr() string {
	if e == nil || e.ln == nil {
		return ""
	}
	return e.ln.Addr().String()
}

func (e *embeddedMCP) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.httpSrv.Shutdown(ctx)
		_ = e.ln.Close()
	})
}

// startEmbeddedMCP serves the JSON-RPC tool endpoint on its own listener.
// Without an HMAC secret it only binds loopback addresses.
func startEmbeddedMCP(ctx context.Context, cfg config.Config, rt *gameRuntime, log *zap.Logger) (*embeddedMCP, error) {
	listen := strings.TrimSpace(cfg.MCPListen)
	if listen == "" {
		log.Info("embedded MCP disabled (mcp_listen empty)")
		return nil, nil
	}
	secret := strings.TrimSpace(cfg.MCPHMACSecret)
	if secret == "" && !isLoopbackListenAddress(listen) {
		return nil, fmt.Errorf("refusing MCP listen on non-loopback address %q without hmac secret", listen)
	}

	srv, err := mcp.NewServer(mcp.Config{
		Catalog:         rt.registry,
		Executor:        rt.orch,
		HMACSecret:      secret,
		AllowLegacyHMAC: cfg.MCPAllowLegacyHMAC,
		Logger:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp server: %w", err)
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("mcp listen: %w", err)
	}
	em := &embeddedMCP{
		httpSrv: &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second},
		ln:      ln,
	}

	authMode := "none(loopback-only)"
	if srv.Signed() {
		authMode = "hmac"
	}
	log.Info("embedded MCP listening",
		zap.String("addr", em.Addr()),
		zap.String("auth_mode", authMode),
		zap.Bool("allow_legacy_hmac", cfg.MCPAllowLegacyHMAC))

	go func() {
		<-ctx.Done()
		em.Close()
	}()
	go func() {
		if err := em.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("embedded MCP serve", zap.Error(err))
		}
	}()
	return em, nil
}

func isLoopbackListenAddress(addr string) bool {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = strings.TrimSpace(h)
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
