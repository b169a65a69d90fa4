package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a session's transcript. Assistant messages are
// built up incrementally by the Assembler while a stream is live.
type Message struct {
	ID            uuid.UUID
	Segments      []Segment
	Role          string
	FromPartner   bool
	Timestamp     time.Time
	IsToolLoading bool
}

func NewUserMessage(content string) Message {
	content = strings.TrimSpace(content)
	msg := Message{
		ID:        uuid.New(),
		Role:      RoleUser,
		Timestamp: time.Now(),
	}
	if content != "" {
		msg.Segments = []Segment{TextSegment(content)}
	}
	return msg
}

func NewAssistantMessage(content string) Message {
	msg := Message{
		ID:        uuid.New(),
		Role:      RoleAssistant,
		Timestamp: time.Now(),
	}
	if content != "" {
		msg.Segments = []Segment{TextSegment(content)}
	}
	return msg
}

// NewPartnerReceivedMessage wraps a message delivered from the linked partner.
func NewPartnerReceivedMessage(text string) Message {
	return Message{
		ID:        uuid.New(),
		Role:      RoleAssistant,
		Segments:  []Segment{PartnerReceivedSegment(text)},
		Timestamp: time.Now(),
	}
}

func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// PlainText joins the message's text segments, skipping partner blocks.
func (m Message) PlainText() string {
	var b strings.Builder
	for _, seg := range m.Segments {
		if seg.Kind == SegmentText {
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

// PartnerDrafts returns every drafted partner message in order.
func (m Message) PartnerDrafts() []string {
	var drafts []string
	for _, seg := range m.Segments {
		if seg.Kind == SegmentPartnerDraft {
			drafts = append(drafts, seg.Text)
		}
	}
	return drafts
}

// PartnerContent returns the first partner draft or received text, if any.
func (m Message) PartnerContent() (string, bool) {
	for _, seg := range m.Segments {
		if seg.Kind == SegmentPartnerDraft {
			return seg.Text, true
		}
	}
	for _, seg := range m.Segments {
		if seg.Kind == SegmentPartnerReceived {
			return seg.Text, true
		}
	}
	return "", false
}

// IsPartnerMessage reports whether the message carries any partner segment.
func (m Message) IsPartnerMessage() bool {
	for _, seg := range m.Segments {
		if seg.Kind == SegmentPartnerDraft || seg.Kind == SegmentPartnerReceived {
			return true
		}
	}
	return false
}

// HasPartnerReceived reports whether the message contains the given partner
// text, compared after trimming surrounding whitespace.
func (m Message) HasPartnerReceived(trimmed string) bool {
	for _, seg := range m.Segments {
		if seg.Kind == SegmentPartnerReceived && strings.TrimSpace(seg.Text) == trimmed {
			return true
		}
	}
	return false
}

func (m Message) IsEmpty() bool {
	for _, seg := range m.Segments {
		if strings.TrimSpace(seg.Text) != "" {
			return false
		}
	}
	return true
}
