// Package phash computes fixed-width perceptual fingerprints for image
// files. Fingerprints are 64-bit difference hashes: two visually similar
// images produce fingerprints separated by a small Hamming distance, so
// approximate equality reduces to a popcount over XOR.
package phash

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"
	"os"
	"strconv"
)

// ErrUnreadable indicates the image file is missing or could not be
// decoded. Callers treat this as fatal for the single capture only.
var ErrUnreadable = errors.New("image unreadable")

// hashSide is the downsample grid width; the hash compares hashSide
// horizontal neighbors across hashSide rows, yielding 64 bits.
const hashSide = 8

// Fingerprint is a 64-bit perceptual hash.
type Fingerprint uint64

// String renders the fingerprint as 16 lowercase hex digits.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// Distance returns the Hamming distance to another fingerprint.
func (f Fingerprint) Distance(other Fingerprint) int {
	return bits.OnesCount64(uint64(f) ^ uint64(other))
}

// Parse decodes a hex-encoded fingerprint produced by String.
func Parse(s string) (Fingerprint, error) {
	if s == "" {
		return 0, fmt.Errorf("empty fingerprint")
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid fingerprint %q: %w", s, err)
	}
	return Fingerprint(v), nil
}

// HashFile computes the fingerprint for the image at path.
func HashFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}

	return HashImage(img), nil
}

// HashImage computes the difference hash of a decoded image: the image is
// reduced to a (hashSide+1) x hashSide grayscale grid and each bit records
// whether luminance increases between horizontal neighbors.
func HashImage(img image.Image) Fingerprint {
	grid := downsample(img, hashSide+1, hashSide)

	var hash uint64
	bit := 0
	for y := 0; y < hashSide; y++ {
		for x := 0; x < hashSide; x++ {
			if grid[y][x] < grid[y][x+1] {
				hash |= 1 << uint(63-bit)
			}
			bit++
		}
	}
	return Fingerprint(hash)
}

// downsample maps the image onto a w x h luminance grid by averaging each
// source cell. Plain box sampling is enough here; the hash only needs
// coarse gradients to survive resizing and recompression.
func downsample(img image.Image, w, h int) [][]float64 {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	grid := make([][]float64, h)
	for y := range grid {
		grid[y] = make([]float64, w)
	}
	if srcW == 0 || srcH == 0 {
		return grid
	}

	for gy := 0; gy < h; gy++ {
		y0 := bounds.Min.Y + gy*srcH/h
		y1 := bounds.Min.Y + (gy+1)*srcH/h
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for gx := 0; gx < w; gx++ {
			x0 := bounds.Min.X + gx*srcW/w
			x1 := bounds.Min.X + (gx+1)*srcW/w
			if x1 <= x0 {
				x1 = x0 + 1
			}

			var sum float64
			var count int
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, b, _ := img.At(x, y).RGBA()
					// ITU-R BT.601 luma, 16-bit channels.
					sum += 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
					count++
				}
			}
			grid[gy][gx] = sum / float64(count)
		}
	}
	return grid
}
