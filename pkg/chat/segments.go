package chat

// SegmentKind identifies what a segment of message content represents.
type SegmentKind string

const (
	// SegmentText is ordinary assistant or user prose.
	SegmentText SegmentKind = "text"
	// SegmentPartnerDraft is a message drafted for the linked partner,
	// rendered distinctly from surrounding prose.
	SegmentPartnerDraft SegmentKind = "partner_draft"
	// SegmentPartnerReceived is a message delivered from the linked partner.
	SegmentPartnerReceived SegmentKind = "partner_received"
)

// Segment is one typed run of message content. A message interleaves text
// runs with partner blocks in arrival order.
type Segment struct {
	Kind SegmentKind `json:"type"`
	Text string      `json:"text"`
}

func TextSegment(text string) Segment {
	return Segment{Kind: SegmentText, Text: text}
}

func PartnerDraftSegment(text string) Segment {
	return Segment{Kind: SegmentPartnerDraft, Text: text}
}

func PartnerReceivedSegment(text string) Segment {
	return Segment{Kind: SegmentPartnerReceived, Text: text}
}
