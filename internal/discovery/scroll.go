package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ScrollView abstracts the scrollable document so the saturation loop can be
// exercised with fakes.
type ScrollView interface {
	// Metrics reports the current scroll offset, viewport height and total
	// document height.
	Metrics() (offset, viewport, height float64, err error)
	ScrollTo(y float64) error
}

// atBottomSlack tolerates sub-viewport rounding when deciding whether the
// last scroll reached the document end.
const atBottomSlack = 100

// saturate scrolls one viewport at a time until lazy loading is exhausted.
// Termination: the iteration cap, or the bottom of the document plus two
// consecutive iterations with no new identifiers. One stagnant iteration is
// not enough: lazy-load responses can lag a full iteration behind the
// scroll that triggered them.
func saturate(ctx context.Context, view ScrollView, count func() int, maxScrolls int, settle func(context.Context)) (int, error) {
	prev := 0
	strikes := 0
	iterations := 0

	for i := 0; i < maxScrolls; i++ {
		select {
		case <-ctx.Done():
			return iterations, ctx.Err()
		default:
		}
		iterations++

		offset, viewport, height, err := view.Metrics()
		if err != nil {
			return iterations, fmt.Errorf("failed to read scroll metrics: %w", err)
		}

		target := offset + viewport
		if target > height {
			target = height
		}
		if err := view.ScrollTo(target); err != nil {
			return iterations, fmt.Errorf("failed to scroll: %w", err)
		}
		settle(ctx)

		current := count()
		atBottom := target >= height-atBottomSlack
		if current == prev {
			strikes++
			if atBottom && strikes >= 2 {
				return iterations, nil
			}
		} else {
			strikes = 0
		}
		prev = current
	}

	return iterations, nil
}

// pageView adapts a live page to ScrollView.
type pageView struct {
	page playwright.Page
}

func (v pageView) Metrics() (offset, viewport, height float64, err error) {
	offsetRaw, err := v.page.Evaluate("window.pageYOffset")
	if err != nil {
		return 0, 0, 0, err
	}
	viewportRaw, err := v.page.Evaluate("window.innerHeight")
	if err != nil {
		return 0, 0, 0, err
	}
	heightRaw, err := v.page.Evaluate("document.body.scrollHeight")
	if err != nil {
		return 0, 0, 0, err
	}
	return toFloat(offsetRaw), toFloat(viewportRaw), toFloat(heightRaw), nil
}

func (v pageView) ScrollTo(y float64) error {
	_, err := v.page.Evaluate(fmt.Sprintf("window.scrollTo(0, %.0f)", y))
	return err
}

// toFloat normalises the numeric types Evaluate can hand back.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func sleepSettle(d time.Duration) func(context.Context) {
	return func(ctx context.Context) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
}
