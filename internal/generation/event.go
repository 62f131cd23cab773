package generation

import "encoding/json"

type EventKind int

const (
	EventStarted EventKind = iota
	EventToken
	EventDone
	EventError
)

// Event is one item of a streamed exchange. Done and Error events are
// terminal; nothing follows them.
type Event struct {
	Kind         EventKind
	SessionID    string
	UserID       string
	Token        string
	FullResponse string
	Err          error
}

func (e Event) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventStarted:
		return json.Marshal(struct {
			SessionID string `json:"session_id"`
			UserID    string `json:"user_id"`
			Started   bool   `json:"started"`
		}{e.SessionID, e.UserID, true})
	case EventDone:
		return json.Marshal(struct {
			Token        string `json:"token"`
			Done         bool   `json:"done"`
			FullResponse string `json:"full_response"`
		}{"", true, e.FullResponse})
	case EventError:
		msg := "generation failed"
		if e.Err != nil {
			msg = e.Err.Error()
		}
		return json.Marshal(struct {
			Error string `json:"error"`
			Done  bool   `json:"done"`
		}{msg, true})
	default:
		return json.Marshal(struct {
			Token string `json:"token"`
			Done  bool   `json:"done"`
		}{e.Token, false})
	}
}
