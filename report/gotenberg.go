// Package report talks to the Gotenberg HTML to PDF converter.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quarryline/quarryline/internal/shared"
)

// ErrRenderFailed marks a converter failure; the document was not produced.
var ErrRenderFailed = fmt.Errorf("%w: pdf renderer", shared.ErrStoreUnavailable)

// Paper describes the page box in inches, the unit Gotenberg expects.
type Paper struct {
	Width, Height float64
	Margin        float64
}

// Letter is US letter with half-inch margins.
var Letter = Paper{Width: 8.5, Height: 11, Margin: 0.5}

// Client wraps interactions with the Gotenberg API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new client. A zero timeout defaults to 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Ping checks if the remote Gotenberg service is available.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: health returned status %d", ErrRenderFailed, resp.StatusCode)
	}
	return nil
}

// ConvertHTML converts an HTML document into PDF bytes.
func (c *Client) ConvertHTML(ctx context.Context, html []byte, paper Paper) ([]byte, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("%w: gotenberg endpoint not configured", ErrRenderFailed)
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(html); err != nil {
		return nil, err
	}
	fields := [][2]string{
		{"paperWidth", inches(paper.Width)},
		{"paperHeight", inches(paper.Height)},
		{"marginTop", inches(paper.Margin)},
		{"marginBottom", inches(paper.Margin)},
		{"marginLeft", inches(paper.Margin)},
		{"marginRight", inches(paper.Margin)},
		{"printBackground", "true"},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/forms/chromium/convert/html", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRenderFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return io.ReadAll(resp.Body)
}

func inches(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
