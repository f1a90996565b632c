// Package chat keeps the client's view of the message list in sync with
// the server.
//
// Every change goes through Reduce: operations talk to the server first
// and then dispatch an Action describing what happened. The periodic
// refresh and user mutations are not serialised against each other, so
// whichever response is dispatched last wins.
package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"tsubuyaki/internal/model"
)

// API is the remote side of the store
type API interface {
	List(ctx context.Context) ([]model.Message, error)
	Create(ctx context.Context, draft model.Message) (model.Message, error)
	Update(ctx context.Context, msg model.Message) (model.Message, error)
	Delete(ctx context.Context, id int64) error
}

// Option configures a Store
type Option func(*Store)

// WithRefreshPausedWhileMutating makes the sync loop skip a tick while a
// create/update/delete is waiting for its response.
func WithRefreshPausedWhileMutating() Option {
	return func(s *Store) { s.pauseRefresh = true }
}

// WithUsername sets the name drafts are posted under
func WithUsername(name string) Option {
	return func(s *Store) { s.state.Draft.Username = name }
}

// Store holds the client State
type Store struct {
	api          API
	pauseRefresh bool

	mu     sync.Mutex
	state  State
	nextID int
	subs   map[int]func(State)
}

// NewStore creates an empty store backed by api
func NewStore(api API, opts ...Option) *Store {
	s := &Store{
		api:  api,
		subs: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies a and notifies subscribers with the resulting state
func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	s.state = Reduce(s.state, a)
	next := s.state
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return next
}

// Subscribe registers fn to be called after every dispatch.
// fn runs on the dispatching goroutine and must not call Dispatch.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Refresh replaces the local list with the server's, most recent first
func (s *Store) Refresh(ctx context.Context) error {
	msgs, err := s.api.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("[chat] refresh failed")
		return err
	}
	s.Dispatch(Refreshed{Messages: msgs})
	return nil
}

// Send posts draft and appends the record the server returns
func (s *Store) Send(ctx context.Context, draft model.Message) error {
	s.Dispatch(MutationStarted{})
	defer s.Dispatch(MutationFinished{})

	created, err := s.api.Create(ctx, draft)
	if err != nil {
		return s.fail("send", err)
	}
	s.Dispatch(Sent{Message: created})
	return nil
}

// SendDraft sends the current compose buffer
func (s *Store) SendDraft(ctx context.Context) error {
	return s.Send(ctx, s.State().Draft)
}

// Remove deletes id on the server and then locally
func (s *Store) Remove(ctx context.Context, id int64) error {
	s.Dispatch(MutationStarted{})
	defer s.Dispatch(MutationFinished{})

	if err := s.api.Delete(ctx, id); err != nil {
		return s.fail("remove", err)
	}
	s.Dispatch(Removed{ID: id})
	return nil
}

// Update replaces the body of id. The full record is sent; fields other
// than the body come from the local copy.
func (s *Store) Update(ctx context.Context, id int64, body string) error {
	msg, ok := s.State().Find(id)
	if !ok {
		msg = model.Message{ID: id, Username: s.State().Draft.Username}
	}
	msg.Body = body

	s.Dispatch(MutationStarted{})
	defer s.Dispatch(MutationFinished{})

	updated, err := s.api.Update(ctx, msg)
	if err != nil {
		return s.fail("update", err)
	}
	if updated.ID == 0 {
		updated = msg
	}
	s.Dispatch(Updated{Message: updated})
	return nil
}

// EditDraft replaces the compose buffer
func (s *Store) EditDraft(body string) {
	s.Dispatch(DraftEdited{Body: body})
}

// DismissAlert acknowledges the current alert
func (s *Store) DismissAlert() {
	s.Dispatch(AlertDismissed{})
}

func (s *Store) fail(op string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		log.Info().Str("op", op).Str("error", apiErr.Message).Msg("[chat] rejected by server")
	} else {
		log.Warn().Str("op", op).Err(err).Msg("[chat] request failed")
	}
	s.Dispatch(Failed{Op: op, Err: err})
	return err
}
