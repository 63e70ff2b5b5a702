package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type NATSDispatcher struct {
	Conn    *nats.Conn
	Subject string
	Timeout time.Duration
}

func NewNATSDispatcher(url, subject string, timeout time.Duration) (*NATSDispatcher, error) {
	conn, err := nats.Connect(url, nats.Name("valiax-scheduler"))
	if err != nil {
		return nil, err
	}
	return &NATSDispatcher{Conn: conn, Subject: subject, Timeout: timeout}, nil
}

func (d *NATSDispatcher) Name() string { return "nats" }

func (d *NATSDispatcher) Close() {
	if d.Conn != nil {
		d.Conn.Drain()
		d.Conn.Close()
	}
}

func (d *NATSDispatcher) Dispatch(ctx context.Context, req Request) (Ack, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Ack{}, err
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	msg, err := d.Conn.RequestWithContext(ctx, d.Subject, data)
	if err != nil {
		return Ack{}, fmt.Errorf("request %s: %w", d.Subject, err)
	}
	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return Ack{}, fmt.Errorf("decode reply: %w", err)
	}
	if reply.Error != "" {
		return Ack{}, fmt.Errorf("%w: %s", ErrRejected, reply.Error)
	}
	return reply.Ack, nil
}
