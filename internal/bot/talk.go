package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"tsubuyaki/internal/model"
)

var talkPattern = regexp.MustCompile(`\Atalk (.*)\z`)

// TalkProcessor forwards "talk <text>" to the A3RT small talk API
type TalkProcessor struct {
	APIKey     string
	URL        string
	HTTPClient *http.Client
}

// NewTalkBot returns the talk bot, or nil when apiKey is empty
func NewTalkBot(apiKey, apiURL string) *Bot {
	if apiKey == "" {
		return nil
	}
	return &Bot{
		Name:      "talk bot",
		Pattern:   talkPattern,
		Processor: &TalkProcessor{APIKey: apiKey, URL: apiURL, HTTPClient: http.DefaultClient},
	}
}

type talkResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Results []struct {
		Perplexity float64 `json:"perplexity"`
		Reply      string  `json:"reply"`
	} `json:"results"`
}

// Process returns the API's reply to the text after "talk "
func (p *TalkProcessor) Process(ctx context.Context, msg model.Message) (string, error) {
	m := talkPattern.FindStringSubmatch(msg.Body)
	if m == nil {
		return "", errors.New("not a talk command")
	}

	form := url.Values{}
	form.Set("apikey", p.APIKey)
	form.Set("query", m[1])

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("talk api: %w", err)
	}
	defer resp.Body.Close()

	var res talkResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("talk api: decode: %w", err)
	}

	// see. https://a3rt.recruit-tech.co.jp/product/talkAPI/
	if res.Status != 0 {
		return "", fmt.Errorf("talk api: status %d: %s", res.Status, res.Message)
	}
	if len(res.Results) == 0 {
		return "返答はない", nil
	}
	return res.Results[0].Reply, nil
}
