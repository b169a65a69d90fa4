package sse

import (
	"encoding/json"
	"strings"

	"github.com/duetchat/duet/pkg/logger"
	"github.com/google/uuid"
)

// Decoder is a push parser for the backend's event-stream framing. Feed it
// raw lines (newline boundaries already split, CR stripped by Feed) and it
// returns the events each line completes. Call Flush at end of input so a
// stream that closes without a trailing blank line still yields its final
// frame.
//
// One Decoder decodes one connection; it is not safe for concurrent use.
type Decoder struct {
	currentEvent string
	dataLines    []string
	sawToolStart bool
	terminated   bool
}

// NewDecoder creates a decoder for a single connection.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed processes one raw line and returns any events it completed.
// After a terminal event has been returned all further input is ignored.
func (d *Decoder) Feed(line string) []Event {
	if d.terminated {
		return nil
	}

	line = strings.TrimSuffix(line, "\r")
	line = strings.TrimSpace(line)

	if line == "" {
		if d.currentEvent != "" || len(d.dataLines) > 0 {
			return d.flush()
		}
		return nil
	}

	if value, ok := strings.CutPrefix(line, "event:"); ok {
		var events []Event
		if d.currentEvent != "" || len(d.dataLines) > 0 {
			events = d.flush()
		}
		if !d.terminated {
			d.currentEvent = strings.TrimSpace(value)
		}
		return events
	}

	if value, ok := strings.CutPrefix(line, "data:"); ok {
		value = strings.TrimSpace(value)
		if d.currentEvent == string(KindToken) {
			// Emit tokens immediately rather than holding partial output
			// until the frame terminator arrives.
			return []Event{TokenEvent(decodeJSONString(value))}
		}
		d.dataLines = append(d.dataLines, value)
		return nil
	}

	// Comments and unknown fields.
	return nil
}

// Flush yields whatever frame is still pending at end of input.
func (d *Decoder) Flush() []Event {
	if d.terminated {
		return nil
	}
	if d.currentEvent == "" && len(d.dataLines) == 0 {
		return nil
	}
	return d.flush()
}

// Terminated reports whether a terminal event has been yielded.
func (d *Decoder) Terminated() bool {
	return d.terminated
}

func (d *Decoder) flush() []Event {
	payload := strings.Join(d.dataLines, "\n")
	event := d.currentEvent
	d.currentEvent = ""
	d.dataLines = nil

	switch EventKind(event) {
	case KindResponseID:
		var body struct {
			ResponseID string `json:"response_id"`
		}
		if err := json.Unmarshal([]byte(payload), &body); err != nil || body.ResponseID == "" {
			logger.Debug("sse: dropping malformed response_id payload: %q", payload)
			return nil
		}
		return []Event{ResponseIDEvent(body.ResponseID)}

	case KindSession:
		var body struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			logger.Debug("sse: dropping malformed session payload: %q", payload)
			return nil
		}
		id, err := uuid.Parse(body.SessionID)
		if err != nil {
			logger.Debug("sse: dropping session event with bad id %q", body.SessionID)
			return nil
		}
		return []Event{SessionEvent(id)}

	case KindToken:
		// The data lines were already emitted by the fast path; an empty
		// frame here is just the terminator of one of those frames.
		if payload == "" {
			return nil
		}
		return []Event{TokenEvent(decodeJSONString(payload))}

	case KindPartnerMessage:
		return []Event{PartnerEvent(decodeJSONString(payload))}

	case KindToolStart:
		var body struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			logger.Debug("sse: dropping malformed tool_start payload: %q", payload)
			return nil
		}
		d.sawToolStart = true
		return []Event{ToolStartEvent(body.Name)}

	case KindToolArgs:
		// Some server framings emit tool_args before tool_start; synthesize
		// the start so consumers see a consistent tool lifecycle.
		if !d.sawToolStart {
			d.sawToolStart = true
			return []Event{ToolStartEvent(""), ToolArgsEvent(payload)}
		}
		return []Event{ToolArgsEvent(payload)}

	case KindToolDone:
		return []Event{ToolDoneEvent()}

	case KindDone:
		d.terminated = true
		return []Event{DoneEvent()}

	case KindError:
		d.terminated = true
		return []Event{ErrorEvent(strings.ReplaceAll(payload, `"`, ""))}

	default:
		// Unknown event names are ignored for forward compatibility. A bare
		// data frame with no event name lands here too.
		return nil
	}
}

// decodeJSONString decodes a JSON-encoded string literal, falling back to
// manual unescaping when the payload is not valid JSON.
func decodeJSONString(payload string) string {
	var s string
	if err := json.Unmarshal([]byte(payload), &s); err == nil {
		return s
	}
	r := strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`, `\\`, `\`)
	return r.Replace(payload)
}
