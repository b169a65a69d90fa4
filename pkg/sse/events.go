package sse

import "github.com/google/uuid"

// EventKind identifies the protocol event carried by an Event.
type EventKind string

const (
	// KindSession reports the session id the server resolved for this stream.
	KindSession EventKind = "session"
	// KindToken carries an incremental fragment of assistant output.
	KindToken EventKind = "token"
	// KindPartnerMessage carries a complete draft for the linked partner.
	KindPartnerMessage EventKind = "partner_message"
	// KindToolStart marks the beginning of a tool invocation.
	KindToolStart EventKind = "tool_start"
	// KindToolArgs carries raw accumulating arguments for the active tool call.
	KindToolArgs EventKind = "tool_args"
	// KindToolDone marks the end of the active tool invocation.
	KindToolDone EventKind = "tool_done"
	// KindResponseID carries the continuation token to echo on the next request.
	KindResponseID EventKind = "response_id"
	// KindDone terminates a stream that completed successfully.
	KindDone EventKind = "done"
	// KindError terminates a stream that failed.
	KindError EventKind = "error"
)

// Event is one decoded protocol event. Exactly one terminal event (KindDone
// or KindError) appears per stream, and it is always last.
type Event struct {
	Kind      EventKind
	SessionID uuid.UUID // KindSession
	Text      string    // KindToken, KindPartnerMessage, KindToolArgs, KindError
	ToolName  string    // KindToolStart; may be empty
	RespID    string    // KindResponseID
}

// IsTerminal reports whether no further events follow this one.
func (e Event) IsTerminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

func SessionEvent(id uuid.UUID) Event  { return Event{Kind: KindSession, SessionID: id} }
func TokenEvent(text string) Event     { return Event{Kind: KindToken, Text: text} }
func PartnerEvent(text string) Event   { return Event{Kind: KindPartnerMessage, Text: text} }
func ToolStartEvent(name string) Event { return Event{Kind: KindToolStart, ToolName: name} }
func ToolArgsEvent(raw string) Event   { return Event{Kind: KindToolArgs, Text: raw} }
func ToolDoneEvent() Event             { return Event{Kind: KindToolDone} }
func ResponseIDEvent(id string) Event  { return Event{Kind: KindResponseID, RespID: id} }
func DoneEvent() Event                 { return Event{Kind: KindDone} }
func ErrorEvent(message string) Event  { return Event{Kind: KindError, Text: message} }
