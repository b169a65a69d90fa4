// Package headless runs a single prompt against the streaming chat backend
// without any interactive UI, printing assistant output as it arrives.
package headless

import (
	"context"
	"fmt"
	"os"

	"github.com/duetchat/duet/pkg/backend"
	"github.com/duetchat/duet/pkg/background"
	"github.com/duetchat/duet/pkg/chat"
	"github.com/duetchat/duet/pkg/config"
	"github.com/duetchat/duet/pkg/controllers"
	"github.com/duetchat/duet/pkg/sse"
	"github.com/duetchat/duet/pkg/stream"
	"github.com/google/uuid"
)

// Runner drives one headless send through the full streaming stack.
type Runner struct {
	controller *controllers.ChatController
	output     *Output
}

// NewRunner builds the streaming stack from global config. The access token
// comes from DUET_ACCESS_TOKEN.
func NewRunner() (*Runner, error) {
	settings := config.Get()

	token := os.Getenv("DUET_ACCESS_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("DUET_ACCESS_TOKEN is not set")
	}

	client := backend.NewClient(settings.Server.BaseURL, backend.StaticToken(token), settings.Timeout())
	cache := chat.NewSessionCache(settings.FreshnessWindow())
	manager := stream.NewManager(background.NewGraceRegistry(settings.BackgroundGrace()))
	controller := controllers.NewChatController(client, backend.StaticToken(token), cache, manager, uuid.Nil)

	return &Runner{
		controller: controller,
		output:     NewOutput(),
	}, nil
}

// Run sends a single prompt and blocks until the stream finishes.
func (r *Runner) Run(ctx context.Context, prompt string, sessionID *uuid.UUID) error {
	if prompt == "" {
		return fmt.Errorf("prompt cannot be empty in headless mode")
	}

	done := make(chan struct{})
	toolRunning := false

	handle, err := r.controller.SendMessageObserved(ctx, prompt, sessionID,
		func(event sse.Event) {
			switch event.Kind {
			case sse.KindToken:
				r.output.Token(event.Text)
			case sse.KindPartnerMessage:
				r.output.PartnerDraft(event.Text)
			case sse.KindToolStart:
				toolRunning = true
				r.output.ToolActivity(event.ToolName, true)
			case sse.KindToolDone:
				if toolRunning {
					toolRunning = false
					r.output.ToolActivity("", false)
				}
			case sse.KindError:
				r.output.Error(event.Text)
			}
		},
		func() {
			close(done)
		},
	)
	if err != nil {
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
		r.controller.Cancel(handle)
		<-done
	}

	fmt.Println()
	return nil
}
