// Package tui is the terminal front end of the chat store.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"tsubuyaki/internal/chat"
	"tsubuyaki/internal/model"
)

// StateMsg tells the model the store changed
type StateMsg struct{}

// opDoneMsg reports the outcome of a store operation started by a key
type opDoneMsg struct {
	op  string
	err error
}

// Model is the bubbletea model of the chat screen
type Model struct {
	ctx      context.Context
	store    *chat.Store
	commands []chat.Command
	styles   Styles

	state   chat.State
	changed chan struct{}
	unsub   func()

	input    textinput.Model
	edit     textinput.Model
	editing  bool
	editID   int64
	selected int

	// tab completion cycle; nil when the last key was not tab
	tabCandidates []string
	tabIndex      int

	// status shows the last transport failure
	status string
	width  int
	height int
}

// New creates the chat screen for store. Close must be called when the
// program exits.
func New(ctx context.Context, store *chat.Store, commands []chat.Command) Model {
	ti := textinput.New()
	ti.Placeholder = "メッセージ (Enter で送信, Tab で補完)"
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.Focus()

	ed := textinput.New()
	ed.Prompt = "✎ "
	ed.CharLimit = 4096
	ed.Width = 80

	styles := DefaultStyles()
	ti.PromptStyle = styles.Prompt
	ed.PromptStyle = styles.Prompt

	// 最新状態だけ知ればよいので容量 1
	changed := make(chan struct{}, 1)
	unsub := store.Subscribe(func(chat.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	st := store.State()
	ti.SetValue(st.Draft.Body)

	return Model{
		ctx:      ctx,
		store:    store,
		commands: commands,
		styles:   styles,
		state:    st,
		changed:  changed,
		unsub:    unsub,
		input:    ti,
		edit:     ed,
	}
}

// Close detaches the model from the store
func (m Model) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}

// Init starts the cursor blink and the store listener
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listen())
}

func (m Model) listen() tea.Cmd {
	changed := m.changed
	ctx := m.ctx
	return func() tea.Msg {
		select {
		case <-changed:
			return StateMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

// run wraps a store operation into a command
func (m Model) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn(ctx)}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-4, 10)
		m.edit.Width = max(msg.Width-4, 10)
		return m, nil

	case StateMsg:
		m.syncState()
		return m, m.listen()

	case opDoneMsg:
		var apiErr *model.APIError
		switch {
		case msg.err == nil:
			m.status = ""
		case errors.As(msg.err, &apiErr):
			// shown through State.Alert
		default:
			m.status = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
		}
		m.syncState()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	if m.editing {
		m.edit, cmd = m.edit.Update(msg)
	} else {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m *Model) syncState() {
	m.state = m.store.State()
	if m.state.Draft.Body != m.input.Value() {
		m.input.SetValue(m.state.Draft.Body)
		m.input.CursorEnd()
	}
	if m.selected >= len(m.state.Messages) {
		m.selected = max(len(m.state.Messages)-1, 0)
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	// アラート表示中は閉じるまで他の操作を受け付けない
	if m.state.Alert != "" {
		switch msg.Type {
		case tea.KeyEnter, tea.KeyEsc:
			m.store.DismissAlert()
			m.syncState()
		}
		return m, nil
	}

	if m.editing {
		return m.handleEditKey(msg)
	}

	if msg.Type != tea.KeyTab {
		m.tabCandidates = nil
	}

	switch msg.Type {
	case tea.KeyEnter:
		return m, m.run("send", m.store.SendDraft)

	case tea.KeyTab:
		m.complete()
		return m, nil

	case tea.KeyUp:
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case tea.KeyDown:
		if m.selected < len(m.state.Messages)-1 {
			m.selected++
		}
		return m, nil

	case tea.KeyCtrlE:
		if sel, ok := m.selectedMessage(); ok {
			m.editing = true
			m.editID = sel.ID
			m.edit.SetValue(sel.Body)
			m.edit.CursorEnd()
			m.input.Blur()
			return m, m.edit.Focus()
		}
		return m, nil

	case tea.KeyCtrlD:
		if sel, ok := m.selectedMessage(); ok {
			id := sel.ID
			return m, m.run("remove", func(ctx context.Context) error {
				return m.store.Remove(ctx, id)
			})
		}
		return m, nil
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before {
		m.store.EditDraft(after)
		m.syncState()
	}
	return m, cmd
}

func (m Model) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		id, body := m.editID, m.edit.Value()
		m.stopEditing()
		return m, m.run("update", func(ctx context.Context) error {
			return m.store.Update(ctx, id, body)
		})
	case tea.KeyEsc:
		m.stopEditing()
		return m, nil
	}

	var cmd tea.Cmd
	m.edit, cmd = m.edit.Update(msg)
	return m, cmd
}

func (m *Model) stopEditing() {
	m.editing = false
	m.editID = 0
	m.edit.Reset()
	m.edit.Blur()
	m.input.Focus()
}

// complete replaces the compose text with the next tab candidate
func (m *Model) complete() {
	if m.tabCandidates == nil {
		m.tabCandidates = chat.Complete(m.commands, m.input.Value())
		m.tabIndex = 0
	} else if len(m.tabCandidates) > 0 {
		m.tabIndex = (m.tabIndex + 1) % len(m.tabCandidates)
	}
	if len(m.tabCandidates) == 0 {
		return
	}
	m.input.SetValue(m.tabCandidates[m.tabIndex])
	m.input.CursorEnd()
	m.store.EditDraft(m.input.Value())
	m.syncState()
}

func (m Model) selectedMessage() (model.Message, bool) {
	if m.selected < 0 || m.selected >= len(m.state.Messages) {
		return model.Message{}, false
	}
	return m.state.Messages[m.selected], true
}

// Suggestions returns what the suggestion bar currently offers
func (m Model) Suggestions() []string {
	pos := m.input.Position()
	return chat.Suggest(m.commands, m.input.Value(), chat.Caret{Start: pos, End: pos})
}

// View renders the screen.
func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(m.styles.Title.Render("tsubuyaki"))
	sb.WriteString("\n\n")

	if len(m.state.Messages) == 0 {
		sb.WriteString(m.styles.Help.Render("メッセージはまだありません"))
		sb.WriteString("\n")
	}
	offset, visible := m.visibleMessages()
	for i, msg := range visible {
		cursor := "  "
		if offset+i == m.selected {
			cursor = m.styles.Selected.Render("> ")
		}
		if m.editing && msg.ID == m.editID {
			sb.WriteString(cursor + m.edit.View() + "\n")
			continue
		}
		sb.WriteString(cursor)
		sb.WriteString(m.styles.Username.Render(msg.Username))
		sb.WriteString(": ")
		sb.WriteString(m.styles.Body.Render(strings.ReplaceAll(msg.Body, "\n", "\n    ")))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if m.state.Alert != "" {
		sb.WriteString(m.styles.Alert.Render("⚠ " + m.state.Alert + "  (Enter で閉じる)"))
		sb.WriteString("\n")
	}
	if m.status != "" {
		sb.WriteString(m.styles.Status.Render(m.status))
		sb.WriteString("\n")
	}
	if s := m.Suggestions(); len(s) > 0 {
		sb.WriteString(m.styles.Suggestion.Render(strings.Join(s, " | ")))
		sb.WriteString("\n")
	}

	sb.WriteString(m.input.View())
	sb.WriteString("\n")
	sb.WriteString(m.styles.Help.Render("↑/↓ 選択 • ctrl+e 編集 • ctrl+d 削除 • tab 補完 • ctrl+c 終了"))
	return sb.String()
}

// visibleMessages returns the window of the list that fits the terminal,
// scrolled so the selected message stays on screen.
func (m Model) visibleMessages() (int, []model.Message) {
	msgs := m.state.Messages
	rows := m.height - 8 // title, alert, suggestions, input, help
	if m.height <= 0 || len(msgs) <= rows {
		return 0, msgs
	}
	rows = max(rows, 1)
	// 一覧が縮んだ直後でも範囲内に収める
	selected := min(m.selected, len(msgs)-1)
	offset := max(selected-rows+1, 0)
	return offset, msgs[offset : offset+rows]
}
