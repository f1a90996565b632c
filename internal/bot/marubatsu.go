package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"tsubuyaki/internal/model"
)

const (
	markEmpty = "・"
	markMaru  = "○"
	markBatsu = "×"

	usage = "使い方: mb status | mb reset | mb <行 1-3> <列 1-3>"
)

// MarubatsuProcessor plays one shared game of tic-tac-toe.
//
//	mb status    show the board
//	mb reset     start over
//	mb <r> <c>   place the current mark at row r, column c (1-3)
type MarubatsuProcessor struct {
	mu    sync.Mutex
	board [3][3]string
	turn  string
}

// NewMarubatsuProcessor returns a processor with an empty board
func NewMarubatsuProcessor() *MarubatsuProcessor {
	p := &MarubatsuProcessor{}
	p.reset()
	return p
}

func (p *MarubatsuProcessor) reset() {
	for r := range p.board {
		for c := range p.board[r] {
			p.board[r][c] = markEmpty
		}
	}
	p.turn = markMaru
}

// Process applies the command in msg.Body and returns the new board
func (p *MarubatsuProcessor) Process(_ context.Context, msg model.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fields := strings.Fields(msg.Body)
	if len(fields) == 0 {
		return usage, nil
	}
	args := fields[1:]
	switch {
	case len(args) == 0, len(args) == 1 && args[0] == "status":
		return p.render(fmt.Sprintf("%sの番です", p.turn)), nil
	case len(args) == 1 && args[0] == "reset":
		p.reset()
		return p.render("リセットしました"), nil
	case len(args) == 2:
		row, errR := strconv.Atoi(args[0])
		col, errC := strconv.Atoi(args[1])
		if errR != nil || errC != nil || row < 1 || row > 3 || col < 1 || col > 3 {
			return usage, nil
		}
		return p.place(row-1, col-1), nil
	default:
		return usage, nil
	}
}

func (p *MarubatsuProcessor) place(row, col int) string {
	if p.board[row][col] != markEmpty {
		return p.render("そこには置けません")
	}
	mark := p.turn
	p.board[row][col] = mark

	if p.wins(mark) {
		out := p.render(fmt.Sprintf("%sの勝ち！", mark))
		p.reset()
		return out
	}
	if p.full() {
		out := p.render("引き分け")
		p.reset()
		return out
	}

	if mark == markMaru {
		p.turn = markBatsu
	} else {
		p.turn = markMaru
	}
	return p.render(fmt.Sprintf("%sの番です", p.turn))
}

func (p *MarubatsuProcessor) wins(m string) bool {
	b := p.board
	for i := 0; i < 3; i++ {
		if b[i][0] == m && b[i][1] == m && b[i][2] == m {
			return true
		}
		if b[0][i] == m && b[1][i] == m && b[2][i] == m {
			return true
		}
	}
	return (b[0][0] == m && b[1][1] == m && b[2][2] == m) ||
		(b[0][2] == m && b[1][1] == m && b[2][0] == m)
}

func (p *MarubatsuProcessor) full() bool {
	for r := range p.board {
		for c := range p.board[r] {
			if p.board[r][c] == markEmpty {
				return false
			}
		}
	}
	return true
}

func (p *MarubatsuProcessor) render(status string) string {
	var sb strings.Builder
	for _, row := range p.board {
		sb.WriteString(strings.Join(row[:], ""))
		sb.WriteString("\n")
	}
	sb.WriteString(status)
	return sb.String()
}
