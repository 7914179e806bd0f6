// Command motionstream-watch connects to a motionstream server and logs every
// frame it receives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gaspardpetit/motionstream/internal/client"
	"github.com/gaspardpetit/motionstream/internal/config"
	"github.com/gaspardpetit/motionstream/internal/frame"
	"github.com/gaspardpetit/motionstream/internal/logx"
	"github.com/gaspardpetit/motionstream/internal/subscription"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	url := flag.String("url", config.GetEnv("MOTIONSTREAM_URL", "ws://localhost:8521/"), "server websocket URL")
	topics := flag.String("topics", config.GetEnv("TOPICS", subscription.Wildcard), "comma separated topics to receive; * for all, empty for none")
	proto := flag.String("subprotocol", config.GetEnv("SUBPROTOCOL", config.DefaultSubprotocol), "websocket subprotocol")
	logLevel := flag.String("log-level", config.GetEnv("LOG_LEVEL", "info"), "log verbosity")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("motionstream-watch version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, *url, &client.Options{Subprotocol: *proto})
	if err != nil {
		logx.Log.Fatal().Err(err).Str("url", *url).Msg("connect")
	}
	logx.Log.Info().Str("url", *url).Str("subprotocol", c.Subprotocol()).Msg("connected")

	if err := subscribe(ctx, c, *topics); err != nil {
		logx.Log.Fatal().Err(err).Msg("subscribe")
	}

	err = c.Run(ctx, func(env frame.Envelope) {
		logx.Log.Info().Str("topic", string(env.Type)).Int("bytes", len(env.Content)).Msg("frame")
	})
	if ctx.Err() != nil {
		_ = c.Close()
		return
	}
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("receive")
	}
	logx.Log.Info().Msg("server closed the connection")
}

func subscribe(ctx context.Context, c *client.Client, list string) error {
	var topics []frame.Topic
	for _, t := range strings.Split(list, ",") {
		t = strings.TrimSpace(t)
		if t == subscription.Wildcard {
			return c.SubscribeAll(ctx)
		}
		if t != "" {
			topics = append(topics, frame.Topic(t))
		}
	}
	return c.Subscribe(ctx, topics...)
}
