package models

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMinimumPurchase is the sentinel stored when the detail payload does
// not state a minimum purchase quantity.
const DefaultMinimumPurchase = 9999

// ProductRecord is the canonical unit of output. Every record carries a
// non-empty SKU ID; all other fields may be empty when the detail fetch
// failed or the payload was incomplete.
type ProductRecord struct {
	SKUID             string            `json:"sku_id"`
	Name              string            `json:"name"`
	Brand             string            `json:"brand"`
	Category          string            `json:"category"`
	JDPrice           string            `json:"jd_price"`
	RetailPrice       string            `json:"retail_price"`
	MainPrice         string            `json:"main_price"`
	MinimumPurchase   int               `json:"minimum_purchase"`
	ShelfLife         string            `json:"shelf_life"`
	ManufacturingDate string            `json:"manufacturing_date"`
	MainImages        []string          `json:"main_images"`
	DetailImages      []string          `json:"detail_images"`
	Params            map[string]string `json:"params"`
}

// NewProductRecord returns the stub record for a SKU: only the identifier is
// set and the minimum purchase quantity carries the unknown sentinel.
func NewProductRecord(skuID string) *ProductRecord {
	return &ProductRecord{
		SKUID:           skuID,
		MinimumPurchase: DefaultMinimumPurchase,
		MainImages:      make([]string, 0),
		DetailImages:    make([]string, 0),
		Params:          make(map[string]string),
	}
}

// RunContext holds the state of the active category run: the run identifier,
// the category being crawled and the records accumulated so far. It is reset
// at the start of each category so one category's failure cannot leak records
// into another category's export. Records are append-only; the mutex exists
// only so the status endpoint can take snapshots while the crawl loop owns
// all writes.
type RunContext struct {
	RunID     string
	StartedAt time.Time

	mu       sync.RWMutex
	category string
	records  []*ProductRecord
}

func NewRunContext() *RunContext {
	return &RunContext{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
}

// Reset clears accumulated records and switches the active category.
func (rc *RunContext) Reset(category string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.category = category
	rc.records = nil
}

func (rc *RunContext) Category() string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.category
}

// Append adds a finished record. Records are never mutated afterwards.
func (rc *RunContext) Append(p *ProductRecord) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.records = append(rc.records, p)
}

// Records returns a snapshot of the accumulated record list.
func (rc *RunContext) Records() []*ProductRecord {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]*ProductRecord, len(rc.records))
	copy(out, rc.records)
	return out
}

func (rc *RunContext) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.records)
}
