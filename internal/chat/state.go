package chat

import (
	"errors"
	"slices"

	"tsubuyaki/internal/model"
)

// State is everything the client renders. Reduce never mutates the State
// it is given; slices are copied before they change.
type State struct {
	Messages []model.Message
	Draft    model.Message
	// Alert holds an application error the user has not acknowledged yet
	Alert    string
	InFlight int
}

// Action describes one change to State
type Action interface {
	isAction()
}

type (
	// Refreshed replaces the list with a freshly fetched sequence
	Refreshed struct{ Messages []model.Message }

	// Sent appends the canonical record returned for a draft
	Sent struct{ Message model.Message }

	// Updated replaces the first record with the same id
	Updated struct{ Message model.Message }

	// Removed drops every record with ID
	Removed struct{ ID int64 }

	// DraftEdited changes the compose buffer
	DraftEdited struct{ Body string }

	// UsernameSet changes the name new drafts are posted under
	UsernameSet struct{ Username string }

	MutationStarted  struct{}
	MutationFinished struct{}

	// Failed records a failed operation. Only application errors raise
	// an alert; transport errors leave State untouched.
	Failed struct {
		Op  string
		Err error
	}

	AlertDismissed struct{}
)

func (Refreshed) isAction()        {}
func (Sent) isAction()             {}
func (Updated) isAction()          {}
func (Removed) isAction()          {}
func (DraftEdited) isAction()      {}
func (UsernameSet) isAction()      {}
func (MutationStarted) isAction()  {}
func (MutationFinished) isAction() {}
func (Failed) isAction()           {}
func (AlertDismissed) isAction()   {}

// Reduce returns the state that follows s after a
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case Refreshed:
		msgs := slices.Clone(a.Messages)
		slices.Reverse(msgs)
		s.Messages = msgs
	case Sent:
		s.Messages = append(slices.Clone(s.Messages), a.Message)
		s.Draft = model.Message{Username: s.Draft.Username}
	case Updated:
		i := slices.IndexFunc(s.Messages, func(m model.Message) bool { return m.ID == a.Message.ID })
		if i < 0 {
			break
		}
		msgs := slices.Clone(s.Messages)
		msgs[i] = a.Message
		s.Messages = msgs
	case Removed:
		s.Messages = slices.DeleteFunc(slices.Clone(s.Messages), func(m model.Message) bool { return m.ID == a.ID })
	case DraftEdited:
		s.Draft.Body = a.Body
	case UsernameSet:
		s.Draft.Username = a.Username
	case MutationStarted:
		s.InFlight++
	case MutationFinished:
		if s.InFlight > 0 {
			s.InFlight--
		}
	case Failed:
		var apiErr *model.APIError
		if errors.As(a.Err, &apiErr) {
			s.Alert = apiErr.Message
		}
	case AlertDismissed:
		s.Alert = ""
	}
	return s
}

// Find returns the first message with id
func (s State) Find(id int64) (model.Message, bool) {
	i := slices.IndexFunc(s.Messages, func(m model.Message) bool { return m.ID == id })
	if i < 0 {
		return model.Message{}, false
	}
	return s.Messages[i], true
}
