package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type HTTPDispatcher struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPDispatcher(runnerURL string, timeout time.Duration) *HTTPDispatcher {
	return &HTTPDispatcher{
		Endpoint: strings.TrimRight(runnerURL, "/") + "/run",
		Client:   &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDispatcher) Name() string { return "http" }

func (d *HTTPDispatcher) Dispatch(ctx context.Context, req Request) (Ack, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Ack{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(data))
	if err != nil {
		return Ack{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := d.Client.Do(httpReq)
	if err != nil {
		return Ack{}, fmt.Errorf("post %s: %w", d.Endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Ack{}, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return Ack{}, fmt.Errorf("decode ack: %w", err)
	}
	return ack, nil
}
