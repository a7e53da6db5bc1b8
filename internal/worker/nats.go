package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/conclave/internal/natsbus"
	"github.com/nats-io/nats.go"
)

const workerQueue = "conclave-workers"

// NATSSession sends each request to whichever remote worker serves the
// backend's invoke subject.
type NATSSession struct {
	client *natsbus.Client
	prefix string
}

func NewNATSSession(client *natsbus.Client, prefix string) *NATSSession {
	return &NATSSession{client: client, prefix: prefix}
}

func (n *NATSSession) Call(ctx context.Context, req Request) (Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := n.client.RequestWithContext(ctx, natsbus.TopicWorkerInvoke(n.prefix, req.Model), data)
	if err != nil {
		return Response{}, fmt.Errorf("nats request: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode worker response: %w", err)
	}
	return resp, nil
}

// Serve answers invoke requests for backend by running them on local.
// Workers started this way join a queue group, so several hosts serving
// the same backend share the load.
func Serve(ctx context.Context, client *natsbus.Client, prefix, backend string, local Session) (*nats.Subscription, error) {
	topic := natsbus.TopicWorkerInvoke(prefix, backend)
	sub, err := client.QueueSubscribe(topic, workerQueue, func(msg *nats.Msg) {
		go handleInvoke(ctx, msg, local)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	slog.Info("serving worker requests", "subject", topic)
	return sub, nil
}

func handleInvoke(ctx context.Context, msg *nats.Msg, local Session) {
	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		slog.Warn("invalid worker request", "subject", msg.Subject, "error", err)
		respond(msg, Response{ExitStatus: -1, Stderr: "invalid request: " + err.Error()})
		return
	}

	if req.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	resp, err := local.Call(ctx, req)
	if err != nil {
		slog.Warn("worker call failed", "session", req.SessionID, "error", err)
		resp = Response{ExitStatus: -1, Stderr: err.Error()}
	}
	respond(msg, resp)
}

func respond(msg *nats.Msg, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal worker response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("respond to worker request", "error", err)
	}
}
