package bot

import (
	"context"
	"fmt"

	"tsubuyaki/internal/model"
)

type (
	// HelloWorldProcessor answers "hello" with "hello, world!"
	HelloWorldProcessor struct{}

	// OmikujiProcessor draws one of "大吉", "吉", "中吉", "小吉", "末吉", "凶"
	OmikujiProcessor struct {
		Intn func(n int) int
	}

	// GachaProcessor draws a rarity
	GachaProcessor struct {
		Intn func(n int) int
	}
)

var (
	fortunes = []string{"大吉", "吉", "中吉", "小吉", "末吉", "凶"}
	rarities = []string{"SSレア", "Sレア", "レア", "ノーマル"}
)

// Process returns the body with ", world!" appended
func (p *HelloWorldProcessor) Process(_ context.Context, msg model.Message) (string, error) {
	return msg.Body + ", world!", nil
}

// Process returns a random fortune
func (p *OmikujiProcessor) Process(context.Context, model.Message) (string, error) {
	intn := p.Intn
	if intn == nil {
		intn = randIntn
	}
	return fortunes[intn(len(fortunes))], nil
}

// Process returns a random rarity
func (p *GachaProcessor) Process(context.Context, model.Message) (string, error) {
	intn := p.Intn
	if intn == nil {
		intn = randIntn
	}
	return fmt.Sprintf("ガチャの結果は%sです！！", rarities[intn(len(rarities))]), nil
}
