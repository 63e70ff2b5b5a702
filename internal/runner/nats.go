package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/thiwi/valiax/internal/dispatch"
)

// Responder serves run requests arriving over NATS request/reply. Runners
// sharing a queue group split the requests between them.
type Responder struct {
	Conn    *nats.Conn
	Subject string
	Queue   string
	Runner  *Runner
	Logger  *slog.Logger
}

func NewResponder(url, subject, queue string, runner *Runner, logger *slog.Logger) (*Responder, error) {
	conn, err := nats.Connect(url, nats.Name("valiax-runner"))
	if err != nil {
		return nil, err
	}
	return &Responder{Conn: conn, Subject: subject, Queue: queue, Runner: runner, Logger: logger}, nil
}

func (s *Responder) Start() (*nats.Subscription, error) {
	return s.Conn.QueueSubscribe(s.Subject, s.Queue, s.handle)
}

func (s *Responder) Close() {
	if s.Conn != nil {
		s.Conn.Drain()
		s.Conn.Close()
	}
}

func (s *Responder) handle(msg *nats.Msg) {
	reply := s.Reply(msg.Data)
	data, err := json.Marshal(reply)
	if err != nil {
		s.Logger.Error("failed to encode reply", slog.String("error", err.Error()))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.Logger.Error("failed to respond", slog.String("subject", s.Subject), slog.String("error", err.Error()))
	}
}

// Reply turns a raw request payload into the response envelope.
func (s *Responder) Reply(data []byte) dispatch.Reply {
	var req dispatch.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return dispatch.Reply{Error: "invalid json payload: " + err.Error()}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ack, err := s.Runner.Submit(ctx, req)
	if err != nil {
		return dispatch.Reply{Error: err.Error()}
	}
	return dispatch.Reply{Ack: ack}
}
