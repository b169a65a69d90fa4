package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/duetchat/duet/pkg/logger"
	"github.com/duetchat/duet/pkg/sse"
)

// Streamer is the transport surface the lifecycle manager consumes.
type Streamer interface {
	StreamChatMessage(ctx context.Context, req ChatStreamRequest, accessToken string) <-chan sse.Event
	StreamPartnerRequest(ctx context.Context, req PartnerStreamRequest, accessToken string) <-chan sse.Event
}

// StreamChatMessage opens a streaming send and returns its decoded event
// sequence. The channel never surfaces a Go error: transport faults and
// non-2xx statuses become a single terminal Error event. Cancelling the
// context aborts the connection and closes the channel.
func (c *Client) StreamChatMessage(ctx context.Context, req ChatStreamRequest, accessToken string) <-chan sse.Event {
	return c.stream(ctx, c.endpoint("chat", "sessions", "message", "stream"), req, accessToken)
}

// StreamPartnerRequest opens a partner-forward stream. Same contract as
// StreamChatMessage.
func (c *Client) StreamPartnerRequest(ctx context.Context, req PartnerStreamRequest, accessToken string) <-chan sse.Event {
	return c.stream(ctx, c.endpoint("partner", "request", "stream"), req, accessToken)
}

func (c *Client) stream(ctx context.Context, endpoint string, payload any, accessToken string) <-chan sse.Event {
	events := make(chan sse.Event, 64)

	go func() {
		defer close(events)

		body, err := json.Marshal(payload)
		if err != nil {
			events <- sse.ErrorEvent(fmt.Sprintf("failed to encode request: %v", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			events <- sse.ErrorEvent(fmt.Sprintf("failed to create request: %v", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Accept-Encoding", "identity")
		req.Header.Set("Cache-Control", "no-cache")

		logger.Debug("backend: starting stream POST %s", endpoint)

		// A Client timeout would sever long-lived streams mid-response, so
		// streaming uses its own client and relies on ctx for cancellation.
		streamClient := &http.Client{Transport: c.httpClient.Transport}
		resp, err := streamClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("backend: stream cancelled before response")
				return
			}
			events <- sse.ErrorEvent(err.Error())
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			logger.Warn("backend: stream rejected with HTTP %d", resp.StatusCode)
			events <- sse.ErrorEvent(fmt.Sprintf("HTTP %d", resp.StatusCode))
			return
		}

		decoder := sse.NewDecoder()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			for _, event := range decoder.Feed(scanner.Text()) {
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
			if decoder.Terminated() {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				logger.Debug("backend: stream cancelled mid-read")
				return
			}
			events <- sse.ErrorEvent(err.Error())
			return
		}

		// Connection closed without a trailing blank line; flush the frame
		// still pending so the final event is not lost.
		for _, event := range decoder.Flush() {
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
		logger.Debug("backend: stream finished (EOF)")
	}()

	return events
}

var _ Streamer = (*Client)(nil)
