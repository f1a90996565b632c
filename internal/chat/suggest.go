package chat

import "strings"

// MaxSuggestions caps the number of candidates offered at once
const MaxSuggestions = 5

// Command is a bot command the compose box knows how to complete.
// Options are suffixes appended verbatim to Key.
type Command struct {
	Key     string
	Options []string
}

// Commands is the fixed command table, in the order candidates are offered.
var Commands = []Command{
	{Key: "mb", Options: []string{" status", " reset", " 1 1", " 1 2", " 1 3", " 2 1", " 2 2", " 2 3", " 3 1", " 3 2", " 3 3"}},
	{Key: "talk"},
	{Key: "gacha"},
	{Key: "omikuji"},
}

// Caret is the compose box cursor. Start != End means a selection.
type Caret struct {
	Start int
	End   int
}

// Suggest returns the candidates shown under the compose box.
// Nothing is offered for empty text, while a selection is active, or
// unless the caret sits at position 0.
func Suggest(table []Command, text string, caret Caret) []string {
	if text == "" {
		return nil
	}
	if caret.Start != caret.End || caret.Start > 0 {
		return nil
	}
	return Complete(table, text)
}

// Complete prefix-matches text against every key and key+option of table
// and returns at most MaxSuggestions candidates in table order.
func Complete(table []Command, text string) []string {
	var out []string
	for _, cmd := range table {
		if strings.HasPrefix(cmd.Key, text) {
			out = append(out, cmd.Key)
		}
		for _, opt := range cmd.Options {
			if s := cmd.Key + opt; strings.HasPrefix(s, text) {
				out = append(out, s)
			}
		}
		if len(out) >= MaxSuggestions {
			return out[:MaxSuggestions]
		}
	}
	return out
}
