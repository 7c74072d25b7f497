// ABOUTME: Minimal demonstration worker that hosts an echo agent type and watches a topic.
// ABOUTME: Usage: echo-worker [-addr localhost:50052] [-id echo-worker] [-type Echo]

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	json "github.com/goccy/go-json"

	"github.com/2389/agent-relay/internal/client"
	"github.com/2389/agent-relay/internal/wire"
)

func main() {
	addr := flag.String("addr", "localhost:50052", "relay host gRPC address")
	clientID := flag.String("id", "echo-worker", "client id")
	agentType := flag.String("type", "Echo", "agent type to host")
	topicPrefix := flag.String("watch", "demo.", "topic type prefix to subscribe to")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(*addr, *clientID, *agentType, *topicPrefix, logger); err != nil {
		logger.Error("echo worker failed", "error", err)
		os.Exit(1)
	}
}

func run(addr, clientID, agentType, topicPrefix string, logger *slog.Logger) error {
	rpc, err := wire.Dial(addr, clientID)
	if err != nil {
		return err
	}
	defer rpc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	worker := client.NewWorker(rpc, logger)
	if err := worker.Connect(ctx); err != nil {
		return err
	}

	if err := worker.RegisterAgentType(ctx, agentType, echoHandler(logger)); err != nil {
		return fmt.Errorf("registering agent type: %w", err)
	}

	if topicPrefix != "" {
		subID, err := worker.SubscribePrefix(ctx, topicPrefix, agentType)
		if err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
		logger.Info("subscribed", "prefix", topicPrefix, "subscription_id", subID)
	}

	worker.OnEvent(func(_ context.Context, ev *wire.Event) {
		logger.Info("event received",
			"topic_type", ev.TopicType,
			"topic_source", ev.TopicSource,
			"payload", string(ev.Payload),
		)
	})

	logger.Info("echo worker ready", "client_id", clientID, "agent_type", agentType)
	return worker.Run(ctx)
}

// echoHandler answers every request with its own payload wrapped in an echo
// envelope.
func echoHandler(logger *slog.Logger) client.Handler {
	return func(_ context.Context, req *wire.Request) ([]byte, error) {
		logger.Info("request received", "request_id", req.RequestID)
		payload := json.RawMessage(req.Payload)
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		reply := map[string]any{
			"echo": payload,
		}
		return json.Marshal(reply)
	}
}
