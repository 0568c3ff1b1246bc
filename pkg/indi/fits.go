package indi

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"astrobridge/pkg/device"
)

const (
	fitsBlock    = 2880
	fitsCardSize = 80
)

// DecodeFITS reads the primary HDU of a FITS image into row-major samples.
// Integer images of 8, 16 and 32 bits and 32-bit float images are
// supported; BZERO is applied.
func DecodeFITS(data []byte) (device.Image, error) {
	hdr, dataStart, err := readFITSHeader(data)
	if err != nil {
		return device.Image{}, err
	}

	bitpix, _ := strconv.Atoi(hdr["BITPIX"])
	naxis, _ := strconv.Atoi(hdr["NAXIS"])
	if naxis < 1 || naxis > 3 {
		return device.Image{}, fitsError("unsupported NAXIS %d", naxis)
	}
	dims := []int{1, 1, 1}
	for i := 0; i < naxis; i++ {
		n, err := strconv.Atoi(hdr["NAXIS"+strconv.Itoa(i+1)])
		if err != nil || n <= 0 {
			return device.Image{}, fitsError("invalid NAXIS%d", i+1)
		}
		dims[i] = n
	}
	var bzero float64
	if v, ok := hdr["BZERO"]; ok {
		bzero, _ = strconv.ParseFloat(v, 64)
	}

	size := bitpix / 8
	if size < 0 {
		size = -size
	}
	count := dims[0] * dims[1] * dims[2]
	if size == 0 || len(data)-dataStart < count*size {
		return device.Image{}, fitsError("data section holds fewer than %d samples", count)
	}

	raw := data[dataStart:]
	pixels := make([]int32, count)
	for i := range pixels {
		b := raw[i*size:]
		var v float64
		switch bitpix {
		case 8:
			v = float64(b[0])
		case 16:
			v = float64(int16(binary.BigEndian.Uint16(b)))
		case 32:
			v = float64(int32(binary.BigEndian.Uint32(b)))
		case -32:
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
		default:
			return device.Image{}, fitsError("unsupported BITPIX %d", bitpix)
		}
		pixels[i] = int32(math.Round(v + bzero))
	}
	return device.Image{Width: dims[0], Height: dims[1], Planes: dims[2], Pixels: pixels}, nil
}

// readFITSHeader returns the header keywords and the offset of the data.
func readFITSHeader(data []byte) (map[string]string, int, error) {
	hdr := map[string]string{}
	for off := 0; off+fitsCardSize <= len(data); off += fitsCardSize {
		card := string(data[off : off+fitsCardSize])
		key := strings.TrimSpace(card[:8])
		if off == 0 && key != "SIMPLE" {
			return nil, 0, fitsError("missing SIMPLE card")
		}
		if key == "END" {
			end := off + fitsCardSize
			return hdr, (end + fitsBlock - 1) / fitsBlock * fitsBlock, nil
		}
		if len(card) > 10 && card[8:10] == "= " {
			val := card[10:]
			if i := strings.Index(val, "/"); i >= 0 && !strings.HasPrefix(strings.TrimSpace(val), "'") {
				val = val[:i]
			}
			hdr[key] = strings.Trim(strings.TrimSpace(val), "'")
		}
	}
	return nil, 0, fitsError("header has no END card")
}

func fitsError(format string, args ...any) error {
	return device.Errorf(device.ErrInvalidValue, "FITS: "+format, args...)
}
