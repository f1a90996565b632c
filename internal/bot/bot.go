// Package bot answers command messages such as "omikuji" or "mb 1 1".
//
// Every message created through the API is fed to a Dispatcher, which
// runs the processors whose pattern matches the body and posts their
// replies as new messages under the bot's name.
package bot

import (
	"context"
	"math/rand/v2"
	"regexp"

	"github.com/rs/zerolog/log"

	"tsubuyaki/internal/metrics"
	"tsubuyaki/internal/model"
)

// Processor builds the reply body for a matching message
type Processor interface {
	Process(ctx context.Context, msg model.Message) (string, error)
}

// Poster stores a reply (handler.Handler implements it)
type Poster interface {
	Post(ctx context.Context, msg model.Message) (model.Message, error)
}

// Bot binds a processor to the messages it answers
type Bot struct {
	Name      string
	Pattern   *regexp.Regexp
	Processor Processor
}

// Dispatcher routes incoming messages to bots
type Dispatcher struct {
	bots   []*Bot
	poster Poster
}

// NewDispatcher creates a dispatcher posting replies through poster
func NewDispatcher(poster Poster, bots ...*Bot) *Dispatcher {
	return &Dispatcher{bots: bots, poster: poster}
}

// Bots returns the registered bots
func (d *Dispatcher) Bots() []*Bot {
	return d.bots
}

// Run handles messages from in until ctx is done or in is closed
func (d *Dispatcher) Run(ctx context.Context, in <-chan model.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			d.Handle(ctx, msg)
		}
	}
}

// Handle runs every matching bot on msg. Messages posted by bots are
// ignored so replies cannot trigger each other.
func (d *Dispatcher) Handle(ctx context.Context, msg model.Message) {
	for _, b := range d.bots {
		if msg.Username == b.Name {
			return
		}
	}

	for _, b := range d.bots {
		if !b.Pattern.MatchString(msg.Body) {
			continue
		}
		body, err := b.Processor.Process(ctx, msg)
		if err != nil {
			log.Warn().Err(err).Str("bot", b.Name).Int64("id", msg.ID).Msg("[bot] process failed")
			continue
		}
		if _, err := d.poster.Post(ctx, model.Message{Body: body, Username: b.Name}); err != nil {
			log.Error().Err(err).Str("bot", b.Name).Msg("[bot] post reply failed")
			continue
		}
		metrics.BotReplies.WithLabelValues(b.Name).Inc()
	}
}

// Defaults returns the bots that need no external service
func Defaults() []*Bot {
	return []*Bot{
		{Name: "hello bot", Pattern: regexp.MustCompile(`\Ahello\z`), Processor: &HelloWorldProcessor{}},
		{Name: "omikuji bot", Pattern: regexp.MustCompile(`\Aomikuji\z`), Processor: &OmikujiProcessor{}},
		{Name: "gacha bot", Pattern: regexp.MustCompile(`\Agacha\z`), Processor: &GachaProcessor{}},
		{Name: "mb bot", Pattern: regexp.MustCompile(`\Amb(\s.*)?\z`), Processor: NewMarubatsuProcessor()},
	}
}

func randIntn(n int) int {
	return rand.IntN(n)
}
