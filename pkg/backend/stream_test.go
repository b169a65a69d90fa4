package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/duetchat/duet/pkg/sse"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseHandler writes the given chunks verbatim, flushing after each one.
func sseHandler(t *testing.T, status int, chunks ...string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok, "response writer must support flushing")

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(status)
		for _, chunk := range chunks {
			fmt.Fprint(w, chunk)
			flusher.Flush()
		}
	}
}

func collect(t *testing.T, events <-chan sse.Event) []sse.Event {
	t.Helper()
	var got []sse.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestStreamChatMessage(t *testing.T) {
	t.Run("decodes a full event sequence", func(t *testing.T) {
		sessionID := uuid.New()
		server := httptest.NewServer(sseHandler(t, http.StatusOK,
			"event: session\n",
			fmt.Sprintf("data: {\"session_id\": \"%s\"}\n\n", sessionID),
			"event: token\ndata: \"Hello\"\n\n",
			"event: token\ndata: \" world\"\n\n",
			"event: done\ndata: {}\n\n",
		))
		defer server.Close()

		client := NewClient(server.URL, StaticToken("tok"), 5*time.Second)
		got := collect(t, client.StreamChatMessage(context.Background(), ChatStreamRequest{Message: "hi"}, "tok"))

		assert.Equal(t, []sse.Event{
			sse.SessionEvent(sessionID),
			sse.TokenEvent("Hello"),
			sse.TokenEvent(" world"),
			sse.DoneEvent(),
		}, got)
	})

	t.Run("sends the streaming headers and bearer token", func(t *testing.T) {
		var gotAuth, gotAccept string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotAccept = r.Header.Get("Accept")
			fmt.Fprint(w, "event: done\ndata: {}\n\n")
		}))
		defer server.Close()

		client := NewClient(server.URL, StaticToken("tok"), 5*time.Second)
		collect(t, client.StreamChatMessage(context.Background(), ChatStreamRequest{Message: "hi"}, "secret"))

		assert.Equal(t, "Bearer secret", gotAuth)
		assert.Equal(t, "text/event-stream", gotAccept)
	})

	t.Run("surfaces a non-2xx status as one terminal Error event", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client := NewClient(server.URL, StaticToken("tok"), 5*time.Second)
		got := collect(t, client.StreamChatMessage(context.Background(), ChatStreamRequest{Message: "hi"}, "tok"))

		require.Len(t, got, 1)
		assert.Equal(t, sse.ErrorEvent("HTTP 401"), got[0])
	})

	t.Run("surfaces a connection failure as one terminal Error event", func(t *testing.T) {
		client := NewClient("http://127.0.0.1:1", StaticToken("tok"), 5*time.Second)
		got := collect(t, client.StreamChatMessage(context.Background(), ChatStreamRequest{Message: "hi"}, "tok"))

		require.Len(t, got, 1)
		assert.Equal(t, sse.KindError, got[0].Kind)
	})

	t.Run("flushes the pending frame when the connection closes without a blank line", func(t *testing.T) {
		server := httptest.NewServer(sseHandler(t, http.StatusOK,
			"event: partner_message\n",
			"data: \"see you soon\"\n",
		))
		defer server.Close()

		client := NewClient(server.URL, StaticToken("tok"), 5*time.Second)
		got := collect(t, client.StreamChatMessage(context.Background(), ChatStreamRequest{Message: "hi"}, "tok"))

		assert.Equal(t, []sse.Event{sse.PartnerEvent("see you soon")}, got)
	})

	t.Run("stops reading after the terminal event", func(t *testing.T) {
		server := httptest.NewServer(sseHandler(t, http.StatusOK,
			"event: done\ndata: {}\n\n",
			"event: token\ndata: \"late\"\n\n",
		))
		defer server.Close()

		client := NewClient(server.URL, StaticToken("tok"), 5*time.Second)
		got := collect(t, client.StreamChatMessage(context.Background(), ChatStreamRequest{Message: "hi"}, "tok"))

		assert.Equal(t, []sse.Event{sse.DoneEvent()}, got)
	})

	t.Run("cancellation closes the channel without an Error event", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			flusher := w.(http.Flusher)
			fmt.Fprint(w, "event: token\ndata: \"first\"\n\n")
			flusher.Flush()
			<-release
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithCancel(context.Background())
		client := NewClient(server.URL, StaticToken("tok"), 5*time.Second)
		events := client.StreamChatMessage(ctx, ChatStreamRequest{Message: "hi"}, "tok")

		first := <-events
		assert.Equal(t, sse.TokenEvent("first"), first)

		cancel()
		got := collect(t, events)
		for _, ev := range got {
			assert.NotEqual(t, sse.KindError, ev.Kind, "cancellation must not surface an error")
		}
	})
}

func TestStreamPartnerRequest(t *testing.T) {
	t.Run("hits the partner endpoint and decodes events", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			fmt.Fprint(w, "event: done\ndata: {}\n\n")
		}))
		defer server.Close()

		client := NewClient(server.URL, StaticToken("tok"), 5*time.Second)
		got := collect(t, client.StreamPartnerRequest(context.Background(), PartnerStreamRequest{
			Message:   "hello",
			SessionID: uuid.New(),
		}, "tok"))

		assert.Equal(t, "/partner/request/stream", gotPath)
		assert.Equal(t, []sse.Event{sse.DoneEvent()}, got)
	})
}
