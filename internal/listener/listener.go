// Package listener implements the scoped network-response subscription that
// feeds the discovery and harvest phases. A Capture is attached to one page
// for the duration of one operation and must be closed when the operation
// ends so callbacks do not leak across unrelated navigations.
package listener

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// Capture accumulates payloads recognised in the internal API traffic of a
// single page. Only two shapes matter: the listing payload carrying
// data.childList[].skuId, and the detail payload carrying
// result.viewMasterMapDTO. Everything else, including bodies that fail to
// parse, is ignored.
type Capture struct {
	apiHost string
	logger  *slog.Logger

	mu            sync.Mutex
	seen          map[string]struct{}
	skus          []string
	detail        map[string]any
	listResponses int

	page    playwright.Page
	handler func(playwright.Response)
	closed  bool
}

func NewCapture(apiHost string) *Capture {
	return &Capture{
		apiHost: apiHost,
		logger:  slog.Default().With("component", "listener"),
		seen:    make(map[string]struct{}),
	}
}

// Attach subscribes the capture to all network responses on page. Callers
// must pair it with a deferred Close.
func (c *Capture) Attach(page playwright.Page) {
	c.page = page
	c.handler = func(resp playwright.Response) {
		if !containsHost(resp.URL(), c.apiHost) {
			return
		}
		body, err := resp.Body()
		if err != nil {
			// Bodies of redirects and aborted requests are not
			// retrievable; never let that surface.
			return
		}
		c.Consume(body)
	}
	page.OnResponse(c.handler)
}

// Close detaches the subscription. Safe to call more than once.
func (c *Capture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.page == nil {
		return
	}
	c.closed = true
	c.page.RemoveListener("response", c.handler)
}

// Consume inspects one response body. Malformed JSON and unrecognised shapes
// are swallowed.
func (c *Capture) Consume(body []byte) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return
	}

	if raw, ok := payload["data"]; ok {
		c.consumeList(raw)
	}
	if raw, ok := payload["result"]; ok {
		c.consumeDetail(raw)
	}
}

type listData struct {
	ChildList []struct {
		SKUID json.RawMessage `json:"skuId"`
	} `json:"childList"`
}

func (c *Capture) consumeList(raw json.RawMessage) {
	var data listData
	if err := json.Unmarshal(raw, &data); err != nil || data.ChildList == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.listResponses++
	for _, item := range data.ChildList {
		id := rawToString(item.SKUID)
		if id == "" {
			continue
		}
		if _, dup := c.seen[id]; dup {
			continue
		}
		c.seen[id] = struct{}{}
		c.skus = append(c.skus, id)
	}
}

func (c *Capture) consumeDetail(raw json.RawMessage) {
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return
	}
	if _, ok := result["viewMasterMapDTO"]; !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// First matching payload wins; later responses on the same page are
	// ignored.
	if c.detail == nil {
		c.detail = result
	}
}

// SKUs returns the identifiers collected so far in first-seen order.
func (c *Capture) SKUs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.skus))
	copy(out, c.skus)
	return out
}

// Len reports the number of distinct identifiers collected so far.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.skus)
}

// ResetSKUs drops all collected identifiers. Used after a filter click so
// only post-filter results are kept.
func (c *Capture) ResetSKUs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]struct{})
	c.skus = nil
}

// Detail returns the captured detail payload, if any arrived.
func (c *Capture) Detail() (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detail, c.detail != nil
}

// ListResponses counts listing payloads seen, used to detect that a filter
// click actually triggered a reload.
func (c *Capture) ListResponses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listResponses
}

// rawToString renders a skuId that may arrive as either a JSON number or a
// string.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func containsHost(url, host string) bool {
	return host != "" && strings.Contains(url, host)
}
