package eventstream

import (
	"encoding/json"
	"fmt"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/entities"
)

// Payload is the typed content of a frame. The concrete types are
// Step, Token, Documents, Done, Failure and Raw.
type Payload interface {
	frameType() string
}

// Step reports pipeline progress ("Retrieving relevant documents...").
type Step struct{ Text string }

// Token is one chunk of generated reply text.
type Token struct{ Text string }

// Documents lists the documents retrieved for the answer.
type Documents struct{ Documents []json.RawMessage }

// Done carries the terminal result.
type Done struct{ Result entities.TerminalResult }

// Failure is an upstream error frame.
type Failure struct{ Message string }

// Raw is a frame of a type with no known payload shape.
type Raw struct {
	Type string
	Data string
}

func (Step) frameType() string      { return TypeStep }
func (Token) frameType() string     { return TypeToken }
func (Documents) frameType() string { return TypeDocuments }
func (Done) frameType() string      { return TypeDone }
func (Failure) frameType() string   { return TypeError }
func (r Raw) frameType() string     { return r.Type }

// Event is a frame together with its decoded payload.
type Event struct {
	Frame
	Payload Payload
}

// Decode interprets the data of a frame according to its type.
// Known types whose payload fails structural validation yield an error
// wrapping entities.ErrMalformedFrame; unknown types never fail.
func Decode(f Frame) (Event, error) {
	ev := Event{Frame: f}
	var err error
	switch f.Type {
	case TypeStep:
		var p struct {
			Step *string `json:"step"`
		}
		if err = unmarshal(f, &p); err == nil && p.Step == nil {
			err = missing(f, "step")
		}
		if err == nil {
			ev.Payload = Step{Text: *p.Step}
		}
	case TypeToken:
		var p struct {
			Token *string `json:"token"`
		}
		if err = unmarshal(f, &p); err == nil && p.Token == nil {
			err = missing(f, "token")
		}
		if err == nil {
			ev.Payload = Token{Text: *p.Token}
		}
	case TypeDocuments:
		var p struct {
			Documents *[]json.RawMessage `json:"documents"`
		}
		if err = unmarshal(f, &p); err == nil && p.Documents == nil {
			err = missing(f, "documents")
		}
		if err == nil {
			ev.Payload = Documents{Documents: *p.Documents}
		}
	case TypeDone:
		var p struct {
			Reply   *string                  `json:"reply"`
			History *[]entities.HistoryEntry `json:"history"`
		}
		if err = unmarshal(f, &p); err == nil {
			switch {
			case p.Reply == nil:
				err = missing(f, "reply")
			case p.History == nil:
				err = missing(f, "history")
			}
		}
		if err == nil {
			err = validHistory(f, *p.History)
		}
		if err == nil {
			var res entities.TerminalResult
			if err = unmarshal(f, &res); err == nil {
				ev.Payload = Done{Result: res}
			}
		}
	case TypeError:
		var p struct {
			Error *string `json:"error"`
		}
		if err = unmarshal(f, &p); err == nil && p.Error == nil {
			err = missing(f, "error")
		}
		if err == nil {
			ev.Payload = Failure{Message: *p.Error}
		}
	default:
		ev.Payload = Raw{Type: f.Type, Data: f.Data}
	}
	if err != nil {
		return Event{Frame: f}, err
	}
	return ev, nil
}

func unmarshal(f Frame, v any) error {
	if err := json.Unmarshal([]byte(f.Data), v); err != nil {
		return fmt.Errorf("%w: %s frame: %v", entities.ErrMalformedFrame, f.Type, err)
	}
	return nil
}

func missing(f Frame, field string) error {
	return fmt.Errorf("%w: %s frame: missing %q", entities.ErrMalformedFrame, f.Type, field)
}

func validHistory(f Frame, history []entities.HistoryEntry) error {
	for i, h := range history {
		if !h.Role.Valid() {
			return fmt.Errorf("%w: %s frame: history[%d] has role %q", entities.ErrMalformedFrame, f.Type, i, h.Role)
		}
	}
	return nil
}
