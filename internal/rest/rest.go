// Package rest issues HTTP requests against an OMERO web server.
//
// Every call is fail-soft: transport errors, timeouts and non-2xx statuses
// are logged once and surfaced as a zero value plus a false flag. No error
// values cross the package boundary, which lets higher layers compose
// requests without error plumbing.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"
)

// maxResponseSize is the maximum allowed response size (64MB) sanity-capping
// raw plane downloads.
const maxResponseSize = 64 * 1024 * 1024

// Config contains request engine settings.
type Config struct {
	Timeout         time.Duration
	PageConcurrency int
}

// Client is the low-level request engine shared by all sub-endpoints of a
// connection. It persists session cookies across calls and follows redirects.
type Client struct {
	http            *http.Client
	pageConcurrency int
}

// NewClient creates a request engine with a fresh cookie jar.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.PageConcurrency <= 0 {
		cfg.PageConcurrency = 8
	}

	// Transparent decompression is disabled so the gzip path is explicit
	// and testable.
	jar, _ := cookiejar.New(nil)
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableCompression = true

	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Jar:       jar,
			Transport: transport,
		},
		pageConcurrency: cfg.PageConcurrency,
	}
}

// Cookie returns the value of a named cookie for the given URI, or "".
func (c *Client) Cookie(uri, name string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// doStatus executes a request and returns the body and HTTP status; status 0
// means the request never completed.
func (c *Client) doStatus(req *http.Request) ([]byte, int) {
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("[REST] %s %s failed: %v", req.Method, req.URL, err)
		return nil, 0
	}
	defer resp.Body.Close()

	var body io.Reader = io.LimitReader(resp.Body, maxResponseSize)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(body)
		if err != nil {
			log.Printf("[REST] %s %s: bad gzip body: %v", req.Method, req.URL, err)
			return nil, 0
		}
		defer gz.Close()
		body = gz
	}

	data, err := io.ReadAll(body)
	if err != nil {
		log.Printf("[REST] %s %s: reading body: %v", req.Method, req.URL, err)
		return nil, 0
	}
	return data, resp.StatusCode
}

func (c *Client) do(req *http.Request) ([]byte, bool) {
	data, status := c.doStatus(req)
	if status == 0 {
		return nil, false
	}
	if status < 200 || status > 299 {
		log.Printf("[REST] %s %s: status %d", req.Method, req.URL, status)
		return nil, false
	}
	return data, true
}

// Get fetches a URI and returns the raw body.
func (c *Client) Get(ctx context.Context, uri string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		log.Printf("[REST] GET %s: %v", uri, err)
		return nil, false
	}
	return c.do(req)
}

// GetJSON fetches a URI and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, uri string, out any) bool {
	data, ok := c.Get(ctx, uri)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Printf("[REST] GET %s: decoding json: %v", uri, err)
		return false
	}
	return true
}

// GetImage fetches a URI and decodes the body as a PNG or JPEG image.
func (c *Client) GetImage(ctx context.Context, uri string) (image.Image, bool) {
	data, ok := c.Get(ctx, uri)
	if !ok {
		return nil, false
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		log.Printf("[REST] GET %s: decoding image: %v", uri, err)
		return nil, false
	}
	return img, true
}

// page is one paginated list response.
type page struct {
	Meta struct {
		Limit      int `json:"limit"`
		Offset     int `json:"offset"`
		TotalCount int `json:"totalCount"`
	} `json:"meta"`
	Data []json.RawMessage `json:"data"`
}

// GetPaginated fetches every page of a paginated list endpoint and
// concatenates the data arrays. Page one is fetched first; the remaining
// pages are fetched concurrently. Page-one order is preserved; ordering
// across the tail pages is best-effort.
func (c *Client) GetPaginated(ctx context.Context, uri string) []json.RawMessage {
	var first page
	if !c.GetJSON(ctx, uri, &first) {
		return nil
	}

	limit := first.Meta.Limit
	total := first.Meta.TotalCount
	if limit <= 0 || total <= len(first.Data) {
		return first.Data
	}

	extra := (total - limit + limit - 1) / limit
	pages := make([][]json.RawMessage, extra)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.pageConcurrency)
	for i := 0; i < extra; i++ {
		i := i
		g.Go(func() error {
			offset := limit * (i + 1)
			var p page
			if c.GetJSON(gctx, offsetURI(uri, offset), &p) {
				pages[i] = p.Data
			}
			// Failed pages contribute nothing; the contract is fail-soft.
			return nil
		})
	}
	g.Wait()

	out := first.Data
	for _, p := range pages {
		out = append(out, p...)
	}
	return out
}

// offsetURI returns uri with the pagination offset parameter set.
func offsetURI(uri string, offset int) string {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Sprintf("%s&offset=%d", uri, offset)
	}
	q := u.Query()
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	return u.String()
}

// Post sends a raw body with the given content type, CSRF token and referer
// headers. The body is scrubbed (zeroed) once the request completes so that
// credential bytes do not linger in memory; it must not be reused by the
// caller. The body is never logged.
func (c *Client) Post(ctx context.Context, uri string, body []byte, contentType, referer, token string) ([]byte, bool) {
	defer scrub(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		log.Printf("[REST] POST %s: %v", uri, err)
		return nil, false
	}
	req.Header.Set("Content-Type", contentType)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if token != "" {
		req.Header.Set("X-CSRFToken", token)
	}
	return c.do(req)
}

// PostForm sends an url-encoded form body.
func (c *Client) PostForm(ctx context.Context, uri string, body []byte, referer, token string) ([]byte, bool) {
	return c.Post(ctx, uri, body, "application/x-www-form-urlencoded", referer, token)
}

// PostFormStatus sends an url-encoded form body and reports the HTTP status
// alongside it; status 0 means the request never completed. Login needs the
// status to tell bad credentials apart from transport failure. The body is
// scrubbed like Post.
func (c *Client) PostFormStatus(ctx context.Context, uri string, body []byte, referer, token string) ([]byte, int) {
	defer scrub(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		log.Printf("[REST] POST %s: %v", uri, err)
		return nil, 0
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if token != "" {
		req.Header.Set("X-CSRFToken", token)
	}
	return c.doStatus(req)
}

// PostJSON marshals v and sends it as a JSON body.
func (c *Client) PostJSON(ctx context.Context, uri string, v any, referer, token string) ([]byte, bool) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Printf("[REST] POST %s: encoding json: %v", uri, err)
		return nil, false
	}
	return c.Post(ctx, uri, body, "application/json", referer, token)
}

func scrub(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
