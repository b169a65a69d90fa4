package backend

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/duetchat/duet/pkg/chat"
	"github.com/google/uuid"
)

// MessageDTO is the wire shape of one persisted message.
type MessageDTO struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt string    `json:"created_at,omitempty"`
}

// envelope is the structured content format the backend persists for
// messages that carry more than plain prose.
type envelope struct {
	Duet struct {
		Type     string           `json:"type"`
		Text     string           `json:"text"`
		Segments []envelopeSegment `json:"segments"`
	} `json:"_duet"`
	Body     string            `json:"body"`
	Segments []envelopeSegment `json:"segments"`
}

type envelopeSegment struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Text    string `json:"text"`
}

// ToMessage maps a persisted message into the domain model. Structured
// content (segment envelopes, partner-received wrappers) is decoded when
// present; anything else is treated as plain text.
func (dto MessageDTO) ToMessage(currentUserID uuid.UUID) chat.Message {
	msg := chat.Message{
		ID:          dto.ID,
		Role:        chat.RoleAssistant,
		FromPartner: dto.UserID != currentUserID && dto.Role == "user",
		Timestamp:   parseCreatedAt(dto.CreatedAt),
	}
	if dto.UserID == currentUserID && dto.Role == "user" {
		msg.Role = chat.RoleUser
	}

	var env envelope
	if err := json.Unmarshal([]byte(dto.Content), &env); err == nil {
		switch env.Duet.Type {
		case "segments":
			items := env.Duet.Segments
			if len(items) == 0 {
				items = env.Segments
			}
			msg.Segments = decodeSegments(items)
			return msg
		case "partner_received":
			if text := strings.TrimSpace(env.Duet.Text); text != "" {
				if env.Body != "" {
					msg.Segments = append(msg.Segments, chat.TextSegment(env.Body))
				}
				msg.Segments = append(msg.Segments, chat.PartnerReceivedSegment(text))
				return msg
			}
		}
	}

	if dto.Content != "" {
		msg.Segments = []chat.Segment{chat.TextSegment(dto.Content)}
	}
	return msg
}

func decodeSegments(items []envelopeSegment) []chat.Segment {
	var segments []chat.Segment
	for _, item := range items {
		switch item.Type {
		case "text":
			if item.Content != "" {
				segments = append(segments, chat.TextSegment(item.Content))
			}
		case "partner_draft":
			if strings.TrimSpace(item.Text) != "" {
				segments = append(segments, chat.PartnerDraftSegment(item.Text))
			}
		case "partner_received":
			if strings.TrimSpace(item.Text) != "" {
				segments = append(segments, chat.PartnerReceivedSegment(item.Text))
			}
		}
	}
	if segments == nil {
		segments = []chat.Segment{chat.TextSegment("")}
	}
	return segments
}

func parseCreatedAt(value string) time.Time {
	if value == "" {
		return time.Now()
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Now()
	}
	return ts
}
