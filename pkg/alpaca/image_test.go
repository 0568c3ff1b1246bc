package alpaca

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrobridge/pkg/device"
)

func TestDecodeImage(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		width  int
		height int
		planes int
		pixels []int32
	}{
		{"flat", `[1,2,3,4]`, 4, 1, 1, []int32{1, 2, 3, 4}},
		// ASCOM arrays are indexed [x][y].
		{"two dimensional", `[[1,4],[2,5],[3,6]]`, 3, 2, 1, []int32{1, 2, 3, 4, 5, 6}},
		{"floats", `[[1.0,3.0],[2.0,4.0]]`, 2, 2, 1, []int32{1, 2, 3, 4}},
		{"colour", `[[[1,10],[3,30]],[[2,20],[4,40]]]`, 2, 2, 2, []int32{1, 2, 3, 4, 10, 20, 30, 40}},
		{"empty", `[]`, 0, 1, 1, []int32{}},
		{"saturated floats", `[4294967295.0,-3e9,65535.5]`, 3, 1, 1, []int32{math.MaxInt32, math.MinInt32, 65535}},
		{"saturated integers", `[[4294967296],[-4294967296]]`, 2, 1, 1, []int32{math.MaxInt32, math.MinInt32}},
		{"saturated colour", `[[[1,5e10]]]`, 1, 1, 2, []int32{1, math.MaxInt32}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeImage(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.width, img.Width)
			assert.Equal(t, tt.height, img.Height)
			assert.Equal(t, tt.planes, img.Planes)
			assert.Equal(t, tt.pixels, img.Pixels)
		})
	}
}

func TestDecodeImageRows(t *testing.T) {
	img, err := DecodeImage(json.RawMessage(`[[1,4],[2,5],[3,6]]`))
	require.NoError(t, err)
	assert.Equal(t, [][]int32{{1, 2, 3}, {4, 5, 6}}, img.Rows())
	assert.Equal(t, int32(6), img.At(2, 1))
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	for _, raw := range []string{`"text"`, `[[1,2],[3]]`, `{"a":1}`} {
		_, err := DecodeImage(json.RawMessage(raw))
		assert.ErrorIs(t, err, device.ErrTransport, raw)
	}
}
