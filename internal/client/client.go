// Package client provides a client for the tsubuyaki message API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"tsubuyaki/internal/model"
)

// ErrTransport wraps every failure that is not an application error:
// unreachable server, unexpected status without an envelope, non-JSON body.
var ErrTransport = errors.New("transport error")

// Client is a tsubuyaki API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a new client. A nil httpClient means http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: httpClient,
	}
}

// do performs a request and decodes the envelope's result into out
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.send(req, out)
}

// send executes req and decodes the envelope's result into out
func (c *Client) send(req *http.Request, out any) error {
	method, path := req.Method, req.URL.Path

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %v", ErrTransport, method, path, err)
	}

	var env model.Envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("%w: %s %s: status %d: invalid body: %v", ErrTransport, method, path, resp.StatusCode, err)
	}
	if env.Error != nil {
		return &model.APIError{Status: resp.StatusCode, Message: env.Error.Message}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s %s: status %d", ErrTransport, method, path, resp.StatusCode)
	}

	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: decode result of %s %s: %v", ErrTransport, method, path, err)
	}
	return nil
}

// List returns every message in server order
func (c *Client) List(ctx context.Context) ([]model.Message, error) {
	var msgs []model.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Get returns a single message
func (c *Client) Get(ctx context.Context, id int64) (model.Message, error) {
	var msg model.Message
	err := c.do(ctx, http.MethodGet, "/api/messages/"+strconv.FormatInt(id, 10), nil, &msg)
	return msg, err
}

// Create posts a draft and returns the stored record
func (c *Client) Create(ctx context.Context, draft model.Message) (model.Message, error) {
	var msg model.Message
	err := c.do(ctx, http.MethodPost, "/api/messages", draft, &msg)
	return msg, err
}

// Update replaces msg on the server
func (c *Client) Update(ctx context.Context, msg model.Message) (model.Message, error) {
	var updated model.Message
	err := c.do(ctx, http.MethodPut, "/api/messages/"+strconv.FormatInt(msg.ID, 10), msg, &updated)
	return updated, err
}

// Delete removes id on the server
func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+strconv.FormatInt(id, 10), nil, nil)
}

// UploadImage posts r as the "file" field of a multipart form to /image
// and returns the name the server stored it under.
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/image", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var out struct {
		Name string `json:"name"`
	}
	if err := c.send(req, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}
