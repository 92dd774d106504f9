package listener

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listBody(ids ...string) []byte {
	items := ""
	for i, id := range ids {
		if i > 0 {
			items += ","
		}
		items += fmt.Sprintf(`{"skuId":%q,"name":"p%d"}`, id, i)
	}
	return []byte(`{"data":{"childList":[` + items + `]}}`)
}

func TestConsumeListDeduplicatesPreservingOrder(t *testing.T) {
	c := NewCapture("api.m.jd.com")

	c.Consume(listBody("100", "200", "100"))
	c.Consume(listBody("300", "200"))
	c.Consume(listBody("100"))

	assert.Equal(t, []string{"100", "200", "300"}, c.SKUs())
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 3, c.ListResponses())
}

func TestConsumeListNumericSKUIDs(t *testing.T) {
	c := NewCapture("api.m.jd.com")
	c.Consume([]byte(`{"data":{"childList":[{"skuId":10023456789},{"skuId":"10023456789"}]}}`))
	assert.Equal(t, []string{"10023456789"}, c.SKUs())
}

func TestConsumeMalformedBodiesSwallowed(t *testing.T) {
	c := NewCapture("api.m.jd.com")

	bodies := [][]byte{
		nil,
		[]byte("not json"),
		[]byte(`"just a string"`),
		[]byte(`{"data":"not an object"}`),
		[]byte(`{"data":{"childList":"nope"}}`),
		[]byte(`{"result":[1,2,3]}`),
		[]byte(`{}`),
	}
	for _, b := range bodies {
		assert.NotPanics(t, func() { c.Consume(b) })
	}
	assert.Empty(t, c.SKUs())
	_, ok := c.Detail()
	assert.False(t, ok)
}

func TestConsumeDetailFirstMatchWins(t *testing.T) {
	c := NewCapture("api.m.jd.com")

	// result without viewMasterMapDTO is not a detail payload
	c.Consume([]byte(`{"result":{"somethingElse":1}}`))
	_, ok := c.Detail()
	require.False(t, ok)

	c.Consume([]byte(`{"result":{"viewMasterMapDTO":{"wareImage":[]},"viewTitleDTO":{"title":"first"}}}`))
	c.Consume([]byte(`{"result":{"viewMasterMapDTO":{},"viewTitleDTO":{"title":"second"}}}`))

	detail, ok := c.Detail()
	require.True(t, ok)
	title := detail["viewTitleDTO"].(map[string]any)["title"]
	assert.Equal(t, "first", title)
}

func TestResetSKUs(t *testing.T) {
	c := NewCapture("api.m.jd.com")
	c.Consume(listBody("1", "2"))
	c.ResetSKUs()
	assert.Empty(t, c.SKUs())

	// identifiers seen before the reset may be collected again
	c.Consume(listBody("1"))
	assert.Equal(t, []string{"1"}, c.SKUs())
}

func TestContainsHost(t *testing.T) {
	assert.True(t, containsHost("https://api.m.jd.com/api?x=1", "api.m.jd.com"))
	assert.False(t, containsHost("https://static.jd.com/a.js", "api.m.jd.com"))
	assert.False(t, containsHost("https://api.m.jd.com/x", ""))
}
