package v0

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultBaseURL = "https://api.v0.dev/v1"

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client talks to the v0 Platform API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new v0 API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestOptions contains per-request options.
type RequestOptions struct {
	// UserAgent is forwarded as-is when set.
	UserAgent string
}

// CreateChat starts a chat in sync mode.
func (c *Client) CreateChat(ctx context.Context, req *CreateChatRequest, opts *RequestOptions) (*ChatDetail, error) {
	req.ResponseMode = ResponseModeSync
	return c.doSync(ctx, "/chats", req, opts)
}

// SendMessage continues chatID in sync mode.
func (c *Client) SendMessage(ctx context.Context, chatID string, req *SendMessageRequest, opts *RequestOptions) (*ChatDetail, error) {
	req.ResponseMode = ResponseModeSync
	return c.doSync(ctx, "/chats/"+url.PathEscape(chatID)+"/messages", req, opts)
}

// CreateChatStream starts a chat and returns the raw event stream.
func (c *Client) CreateChatStream(ctx context.Context, req *CreateChatRequest, opts *RequestOptions) (*EventStream, error) {
	req.ResponseMode = ResponseModeStream
	return c.doStream(ctx, "/chats", req, opts)
}

// SendMessageStream continues chatID and returns the raw event stream.
func (c *Client) SendMessageStream(ctx context.Context, chatID string, req *SendMessageRequest, opts *RequestOptions) (*EventStream, error) {
	req.ResponseMode = ResponseModeStream
	return c.doStream(ctx, "/chats/"+url.PathEscape(chatID)+"/messages", req, opts)
}

func (c *Client) doSync(ctx context.Context, path string, payload any, opts *RequestOptions) (*ChatDetail, error) {
	resp, err := c.post(ctx, path, payload, opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ParseErrorResponse(resp.StatusCode, respBody)
	}

	var result ChatDetail
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func (c *Client) doStream(ctx context.Context, path string, payload any, opts *RequestOptions) (*EventStream, error) {
	resp, err := c.post(ctx, path, payload, opts)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, ParseErrorResponse(resp.StatusCode, respBody)
	}

	return newEventStream(resp.Body), nil
}

func (c *Client) post(ctx context.Context, path string, payload any, opts *RequestOptions) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, opts)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) setHeaders(req *http.Request, opts *RequestOptions) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	if opts != nil && opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	} else {
		req.Header.Set("User-Agent", "studioz-gateway/1.0")
	}
}

// Frame is one server-sent event.
type Frame struct {
	Event string
	ID    string
	Data  []byte
	// Raw holds every line of the frame as received, including the blank
	// line that terminates it.
	Raw []byte
}

// Done reports whether the frame is the [DONE] terminator.
func (f Frame) Done() bool {
	return string(f.Data) == "[DONE]"
}

// EventStream reads server-sent events from a v0 streaming response.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newEventStream(body io.ReadCloser) *EventStream {
	scanner := bufio.NewScanner(body)
	// Frames carrying whole files can be large.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	return &EventStream{body: body, scanner: scanner}
}

// Recv returns the next frame carrying data, or io.EOF when the body ends.
// Multi-line data fields are joined with newlines in Data; Raw keeps them
// as separate lines. Frames without data, such as keep-alive comments, are
// skipped.
func (s *EventStream) Recv() (Frame, error) {
	var (
		frame Frame
		data  [][]byte
		raw   bytes.Buffer
	)
	for s.scanner.Scan() {
		line := s.scanner.Bytes()

		if len(line) == 0 {
			if len(data) > 0 {
				raw.WriteByte('\n')
				frame.Data = bytes.Join(data, []byte("\n"))
				frame.Raw = raw.Bytes()
				return frame, nil
			}
			frame = Frame{}
			raw.Reset()
			continue
		}

		raw.Write(line)
		raw.WriteByte('\n')

		switch {
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, append([]byte(nil), fieldValue(line, "data:")...))
		case bytes.HasPrefix(line, []byte("event:")):
			frame.Event = string(fieldValue(line, "event:"))
		case bytes.HasPrefix(line, []byte("id:")):
			frame.ID = string(fieldValue(line, "id:"))
		}
	}

	if err := s.scanner.Err(); err != nil {
		return Frame{}, fmt.Errorf("stream read error: %w", err)
	}
	if len(data) > 0 {
		raw.WriteByte('\n')
		frame.Data = bytes.Join(data, []byte("\n"))
		frame.Raw = raw.Bytes()
		return frame, nil
	}
	return Frame{}, io.EOF
}

// fieldValue strips the field name and the single optional leading space.
func fieldValue(line []byte, name string) []byte {
	v := bytes.TrimPrefix(line, []byte(name))
	return bytes.TrimPrefix(v, []byte(" "))
}

// Close releases the response body.
func (s *EventStream) Close() error {
	return s.body.Close()
}
