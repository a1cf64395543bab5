package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionNavigate Action = "navigate"
	ActionEvent    Action = "event"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest is sent by the client to save a single answer.
type AutosaveRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id"`
	Answer string `json:"ans"`
}

// NavigateRequest moves the client's question pointer. Go targets an index,
// otherwise direction is "next" or "previous".
type NavigateRequest struct {
	Action    Action `json:"action"`
	Direction string `json:"direction,omitempty"`
	Index     *int   `json:"index,omitempty"`
}

// EventRequest is sent by the client to report a session event
// (focus loss, inactivity, app restart).
type EventRequest struct {
	Action Action `json:"action"`
	Type   string `json:"type"`
	Label  string `json:"label,omitempty"`
}

// SubmitRequest is sent by the client to finish the attempt.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventPosition  Event = "position"
	EventSubmitted Event = "submitted"
	EventExpired   Event = "expired"
	EventPong      Event = "pong"
)

type SavedResponse struct {
	Event    Event  `json:"event"`
	QID      string `json:"q_id"`
	Progress int    `json:"progress"`
}

// PositionResponse reports the question pointer after a navigate.
type PositionResponse struct {
	Event Event  `json:"event"`
	Index int    `json:"index"`
	QID   string `json:"q_id"`
}

// SubmittedResponse reports finalization. Score carries the auto-graded
// portion only; essays are still waiting on review.
type SubmittedResponse struct {
	Event  Event   `json:"event"`
	Status string  `json:"status"`
	Score  float64 `json:"score"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

// PongResponse answers a ping, carrying the authoritative countdown so the
// client clock can never drift.
type PongResponse struct {
	Event     Event `json:"event"`
	Remaining int   `json:"remaining"`
}
