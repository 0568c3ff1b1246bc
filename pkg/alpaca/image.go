package alpaca

import (
	"encoding/json"
	"fmt"
	"math"

	"astrobridge/pkg/device"
)

// Image is the decoded form of an ImageArray reply.
type Image = device.Image

// DecodeImage accepts a 1-D sample list, an ASCOM [x][y] array or an
// [x][y][plane] array, with integer or floating point samples.
func DecodeImage(raw json.RawMessage) (Image, error) {
	if img, err := decodeImage[int32](raw); err == nil {
		return img, nil
	}
	img, err := decodeImage[float64](raw)
	if err != nil {
		return Image{}, &device.Error{Kind: device.ErrTransport, Code: CodeUnspecified, Message: fmt.Sprintf("Failed to parse image array: %v", err)}
	}
	return img, nil
}

type sample interface{ int32 | float64 }

func decodeImage[T sample](raw json.RawMessage) (Image, error) {
	var flat []T
	if err := json.Unmarshal(raw, &flat); err == nil {
		return Image{Width: len(flat), Height: 1, Planes: 1, Pixels: convert(flat)}, nil
	}

	var cols [][]T
	if err := json.Unmarshal(raw, &cols); err == nil {
		img := Image{Width: len(cols), Planes: 1}
		if img.Width > 0 {
			img.Height = len(cols[0])
		}
		img.Pixels = make([]int32, img.Width*img.Height)
		for x, col := range cols {
			if len(col) != img.Height {
				return Image{}, fmt.Errorf("ragged image column %d", x)
			}
			for y, v := range col {
				img.Pixels[y*img.Width+x] = toPixel(v)
			}
		}
		return img, nil
	}

	var cube [][][]T
	if err := json.Unmarshal(raw, &cube); err != nil {
		return Image{}, err
	}
	img := Image{Width: len(cube)}
	if img.Width > 0 {
		img.Height = len(cube[0])
		if img.Height > 0 {
			img.Planes = len(cube[0][0])
		}
	}
	plane := img.Width * img.Height
	img.Pixels = make([]int32, plane*img.Planes)
	for x, col := range cube {
		if len(col) != img.Height {
			return Image{}, fmt.Errorf("ragged image column %d", x)
		}
		for y, px := range col {
			if len(px) != img.Planes {
				return Image{}, fmt.Errorf("ragged image pixel %d,%d", x, y)
			}
			for p, v := range px {
				img.Pixels[p*plane+y*img.Width+x] = toPixel(v)
			}
		}
	}
	return img, nil
}

func convert[T sample](in []T) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = toPixel(v)
	}
	return out
}

// toPixel saturates samples outside the int32 range. NaN reads as 0.
func toPixel[T sample](v T) int32 {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}
