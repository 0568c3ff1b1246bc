package device

// Image is a frame normalized to row-major order. Colour images keep their
// planes one after the other.
type Image struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Planes int     `json:"planes"`
	Pixels []int32 `json:"pixels"`
}

// At returns the sample at (x, y) of plane 0.
func (img Image) At(x, y int) int32 {
	return img.Pixels[y*img.Width+x]
}

// Rows returns plane 0 as Height rows of Width samples.
func (img Image) Rows() [][]int32 {
	rows := make([][]int32, img.Height)
	for y := range rows {
		rows[y] = img.Pixels[y*img.Width : (y+1)*img.Width]
	}
	return rows
}
