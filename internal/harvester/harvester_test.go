package harvester

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joneqian/b2b-jd-crawl/internal/models"
	"github.com/joneqian/b2b-jd-crawl/internal/queue"
)

// stubFetcher returns stub records and can cancel the run after a number of
// fetches, simulating an interrupt mid-harvest.
type stubFetcher struct {
	fetched     []string
	cancelAfter int
	cancel      context.CancelFunc
}

func (s *stubFetcher) Fetch(ctx context.Context, skuID string) *models.ProductRecord {
	s.fetched = append(s.fetched, skuID)
	if s.cancel != nil && len(s.fetched) == s.cancelAfter {
		s.cancel()
	}
	return models.NewProductRecord(skuID)
}

func loadedQueue(t *testing.T, skus ...string) *queue.InMemoryQueue {
	t.Helper()
	q := queue.NewInMemoryQueue()
	for _, id := range skus {
		require.NoError(t, q.Push(&queue.Task{SKUID: id}))
	}
	require.NoError(t, q.Close())
	return q
}

func TestDrainAppendsEveryIdentifierInOrder(t *testing.T) {
	run := models.NewRunContext()
	run.Reset("休闲零食")
	f := &stubFetcher{}

	err := Drain(context.Background(), run, loadedQueue(t, "1", "2", "3"), f, nil, nil)
	require.NoError(t, err)

	records := run.Records()
	require.Len(t, records, 3)
	for i, want := range []string{"1", "2", "3"} {
		assert.Equal(t, want, records[i].SKUID)
		assert.Equal(t, models.DefaultMinimumPurchase, records[i].MinimumPurchase)
	}
}

func TestDrainInterruptKeepsAccumulatedRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run := models.NewRunContext()
	run.Reset("休闲零食")
	f := &stubFetcher{cancelAfter: 2, cancel: cancel}

	err := Drain(ctx, run, loadedQueue(t, "1", "2", "3", "4", "5"), f, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)

	// the 2 records fetched before the interrupt are in the run
	records := run.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].SKUID)
	assert.Equal(t, "2", records[1].SKUID)
	assert.Equal(t, "休闲零食", run.Category())
}

func TestDrainEmptyQueue(t *testing.T) {
	run := models.NewRunContext()
	run.Reset("x")
	err := Drain(context.Background(), run, loadedQueue(t), &stubFetcher{}, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, run.Len())
}
