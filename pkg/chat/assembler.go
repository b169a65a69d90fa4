package chat

import (
	"time"

	"github.com/duetchat/duet/pkg/sse"
	"github.com/google/uuid"
)

// Assembler folds a stream of protocol events into one in-progress assistant
// message. It creates the message lazily on the first event that needs it, so
// a stream that only carries metadata never produces an empty bubble.
//
// One Assembler serves one stream; it is not safe for concurrent use.
type Assembler struct {
	msg     Message
	started bool
}

// NewAssembler creates an assembler with no message yet.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// NewAssemblerFor continues assembly into an existing placeholder message.
func NewAssemblerFor(msg Message) *Assembler {
	return &Assembler{msg: msg, started: true}
}

// Apply folds one event into the in-progress message and returns the updated
// message. The second return is false when the event has no effect on message
// content (session routing, response ids, tool args, terminal events).
func (a *Assembler) Apply(event sse.Event) (Message, bool) {
	switch event.Kind {
	case sse.KindToken:
		a.ensure()
		n := len(a.msg.Segments)
		if n > 0 && a.msg.Segments[n-1].Kind == SegmentText {
			a.msg.Segments[n-1].Text += event.Text
		} else {
			a.msg.Segments = append(a.msg.Segments, TextSegment(event.Text))
		}
		return a.msg, true

	case sse.KindPartnerMessage:
		a.ensure()
		// Drafts never merge with adjacent text runs.
		a.msg.Segments = append(a.msg.Segments, PartnerDraftSegment(event.Text))
		a.msg.IsToolLoading = false
		return a.msg, true

	case sse.KindToolStart:
		a.ensure()
		a.msg.IsToolLoading = true
		return a.msg, true

	case sse.KindToolDone:
		a.ensure()
		a.msg.IsToolLoading = false
		return a.msg, true

	default:
		return a.msg, false
	}
}

// Message returns the in-progress message and whether one exists yet.
func (a *Assembler) Message() (Message, bool) {
	return a.msg, a.started
}

// Finalize clears the tool-loading flag so a stream that terminates before
// tool_done does not leave a permanently loading bubble.
func (a *Assembler) Finalize() (Message, bool) {
	if !a.started {
		return Message{}, false
	}
	a.msg.IsToolLoading = false
	return a.msg, true
}

func (a *Assembler) ensure() {
	if a.started {
		return
	}
	a.msg = Message{
		ID:        uuid.New(),
		Role:      RoleAssistant,
		Timestamp: time.Now(),
	}
	a.started = true
}
