package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBestMatch(t *testing.T) {
	options := []string{"全部", "休闲零食", "饮料冲调", "粮油调味品"}

	tests := []struct {
		name     string
		want     string
		wantIdx  int
		wantKind MatchKind
	}{
		{"exact", "休闲零食", 1, MatchExact},
		{"option contains request", "粮油调味", 3, MatchPartial},
		{"request contains option", "休闲零食大礼包", 1, MatchPartial},
		{"exact beats partial", "全部", 0, MatchExact},
		{"no match", "母婴用品", -1, MatchNone},
		{"empty request", "", -1, MatchNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, kind := BestMatch(tt.want, options)
			assert.Equal(t, tt.wantIdx, idx)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestBestMatchTrimsWhitespace(t *testing.T) {
	idx, kind := BestMatch(" 休闲零食 ", []string{"  休闲零食\n"})
	assert.Equal(t, 0, idx)
	assert.Equal(t, MatchExact, kind)
}

func TestBestMatchSkipsEmptyOptions(t *testing.T) {
	idx, kind := BestMatch("零食", []string{"", "  ", "休闲零食"})
	assert.Equal(t, 2, idx)
	assert.Equal(t, MatchPartial, kind)
}
