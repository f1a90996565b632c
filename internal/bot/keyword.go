package bot

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"tsubuyaki/internal/model"
)

var keywordPattern = regexp.MustCompile(`\Akeyword (.*)\z`)

// KeywordProcessor extracts key phrases from "keyword <text>" with the
// Yahoo! key phrase API.
type KeywordProcessor struct {
	AppID      string
	URL        string
	HTTPClient *http.Client
}

// NewKeywordBot returns the keyword bot, or nil when appID is empty
func NewKeywordBot(appID, apiURL string) *Bot {
	if appID == "" {
		return nil
	}
	return &Bot{
		Name:      "keyword bot",
		Pattern:   keywordPattern,
		Processor: &KeywordProcessor{AppID: appID, URL: apiURL, HTTPClient: http.DefaultClient},
	}
}

// Process replies with the phrases the API found, highest score first
func (p *KeywordProcessor) Process(ctx context.Context, msg model.Message) (string, error) {
	m := keywordPattern.FindStringSubmatch(msg.Body)
	if m == nil {
		return "", errors.New("not a keyword command")
	}

	u, err := url.Parse(p.URL)
	if err != nil {
		return "", fmt.Errorf("keyword api: %w", err)
	}
	q := u.Query()
	q.Set("appid", p.AppID)
	q.Set("sentence", m[1])
	q.Set("output", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("keyword api: %w", err)
	}
	defer resp.Body.Close()

	// {"フレーズ": スコア, ...} か {"Error": {...}}
	var res map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("keyword api: decode: %w", err)
	}
	if e, ok := res["Error"]; ok {
		return "", fmt.Errorf("keyword api: %s", e)
	}

	type phrase struct {
		text  string
		score float64
	}
	phrases := make([]phrase, 0, len(res))
	for k, v := range res {
		var score float64
		_ = json.Unmarshal(v, &score)
		phrases = append(phrases, phrase{k, score})
	}
	slices.SortFunc(phrases, func(a, b phrase) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return strings.Compare(a.text, b.text)
	})

	words := make([]string, len(phrases))
	for i, ph := range phrases {
		words[i] = ph.text
	}
	return "キーワード：" + strings.Join(words, ", "), nil
}
