package main

import (
	"context"
	"flag"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/motionstream/internal/client"
	"github.com/gaspardpetit/motionstream/internal/config"
	"github.com/gaspardpetit/motionstream/internal/frame"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("motionstream", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte("port: 9000\nsubprotocol: FromFile\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SUBPROTOCOL", "FromEnv")

	cfg, showVersion, err := loadConfig([]string{"--config", path, "--port", "9100"}, newFlagSet())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if showVersion {
		t.Fatalf("version requested unexpectedly")
	}
	if cfg.Port != 9100 {
		t.Fatalf("port = %d; want flag value 9100", cfg.Port)
	}
	if cfg.Subprotocol != "FromEnv" {
		t.Fatalf("subprotocol = %q; want env value", cfg.Subprotocol)
	}
	if cfg.ConfigFile != path {
		t.Fatalf("config file = %q", cfg.ConfigFile)
	}
}

func TestLoadConfigMissingFileIsFine(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	cfg, _, err := loadConfig([]string{"--config=" + missing}, newFlagSet())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Port != 8521 || cfg.BindAddr != "localhost" || cfg.Subprotocol != config.DefaultSubprotocol {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfigVersionAndInvalid(t *testing.T) {
	if _, showVersion, err := loadConfig([]string{"--version"}, newFlagSet()); err != nil || !showVersion {
		t.Fatalf("version: show=%v err=%v", showVersion, err)
	}
	if _, _, err := loadConfig([]string{"--path", "stream"}, newFlagSet()); err == nil {
		t.Fatalf("expected validation error for relative path")
	}
}

func TestRunServesDemoFrames(t *testing.T) {
	var cfg config.ServerConfig
	cfg.SetDefaults()
	cfg.BindAddr = "127.0.0.1"
	cfg.Port = freePort(t)
	cfg.DemoInterval = 20 * time.Millisecond
	cfg.CloseTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg) }()

	url := "ws://" + cfg.ListenAddr() + cfg.Path
	var c *client.Client
	deadline := time.Now().Add(3 * time.Second)
	for {
		dctx, dcancel := context.WithTimeout(context.Background(), time.Second)
		var err error
		c, err = client.Dial(dctx, url, nil)
		dcancel()
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %s: %v", url, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	rctx, rcancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer rcancel()
	env, err := c.Receive(rctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if env.Type != frame.TopicMotion && env.Type != frame.TopicBodyIndex {
		t.Fatalf("unexpected topic %s", env.Type)
	}

	closed := make(chan error, 1)
	go func() { closed <- c.Run(context.Background(), nil) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return")
	}
	select {
	case err := <-closed:
		if err != nil && websocket.CloseStatus(err) != websocket.StatusGoingAway {
			t.Fatalf("client: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("client not closed")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
