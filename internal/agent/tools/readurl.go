package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

const (
	maxPageBytes = 4 << 20
	maxPageChars = 20000
)

// ReadURL fetches a page referenced by a work order or hazard event, such
// as a published warning, and returns it as markdown.
type ReadURL struct {
	client *http.Client
	hosts  []string
}

// ReadURLOption configures a ReadURL tool.
type ReadURLOption func(*ReadURL)

// WithHTTPClient replaces the default 30s-timeout client.
func WithHTTPClient(c *http.Client) ReadURLOption {
	return func(r *ReadURL) { r.client = c }
}

// WithAllowedHosts limits fetches to the given host names. Empty allows any.
func WithAllowedHosts(hosts ...string) ReadURLOption {
	return func(r *ReadURL) { r.hosts = hosts }
}

func NewReadURL(opts ...ReadURLOption) *ReadURL {
	r := &ReadURL{client: &http.Client{Timeout: 30 * time.Second}}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *ReadURL) Name() string { return "read_url" }

func (r *ReadURL) Description() string {
	return "Fetch a warning or advisory page linked from a hazard event or work order and return it as markdown"
}

func (r *ReadURL) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "http(s) address of the page"}
		},
		"required": ["url"]
	}`)
}

func (r *ReadURL) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	u, err := r.target(params.URL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "wosafety/1.0")
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, application/json;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", u.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	text, err := pageText(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return "", err
	}
	return clip(text, maxPageChars), nil
}

func (r *ReadURL) target(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("url must be http or https: %q", raw)
	}
	if len(r.hosts) > 0 && !slices.Contains(r.hosts, u.Hostname()) {
		return nil, fmt.Errorf("host %q is not allowed", u.Hostname())
	}
	return u, nil
}

// pageText converts HTML to markdown and passes plain text and JSON through.
// A missing content type is treated as HTML.
func pageText(contentType string, body []byte) (string, error) {
	media := "text/html"
	if contentType != "" {
		if m, _, err := mime.ParseMediaType(contentType); err == nil {
			media = m
		}
	}
	switch {
	case media == "text/html" || media == "application/xhtml+xml":
		md, err := htmltomarkdown.ConvertString(string(body))
		if err != nil {
			return "", fmt.Errorf("convert to markdown: %w", err)
		}
		return md, nil
	case strings.HasPrefix(media, "text/") || media == "application/json":
		return string(body), nil
	default:
		return "", fmt.Errorf("unsupported content type %q", media)
	}
}

// clip cuts s to at most n bytes on a rune boundary.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n\n[Content truncated]"
}
