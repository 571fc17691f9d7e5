package phash

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestImage renders a horizontal gradient with a configurable step so
// tests can produce visually distinct images deterministically.
func writeTestImage(t *testing.T, dir, name string, step uint8) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(x) * step
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))

	return path
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a    Fingerprint
		b    Fingerprint
		want int
	}{
		{"identical", 0x0F, 0x0F, 0},
		{"one bit", 0x0F, 0x0E, 1},
		{"four bits", 0x0F, 0x00, 4},
		{"all bits", 0, 0xFFFFFFFFFFFFFFFF, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Distance(tt.b))
			assert.Equal(t, tt.want, tt.b.Distance(tt.a))
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	fp := Fingerprint(0xDEADBEEF00FF1234)
	parsed, err := Parse(fp.String())
	require.NoError(t, err)
	assert.Equal(t, fp, parsed)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)

	_, err = Parse("not-hex")
	assert.Error(t, err)
}

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, "a.png", 4)

	first, err := HashFile(path)
	require.NoError(t, err)
	second, err := HashFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestHashFileGradient(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, "gradient.png", 4)

	fp, err := HashFile(path)
	require.NoError(t, err)

	// A strictly increasing horizontal gradient sets every dHash bit.
	assert.Equal(t, Fingerprint(0xFFFFFFFFFFFFFFFF), fp)
}

func TestHashFileMissing(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "nope.png"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestHashFileNotAnImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.png")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a png"), 0644))

	_, err := HashFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestHashImageDistinguishesImages(t *testing.T) {
	flat := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			flat.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}

	gradient := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			v := uint8(x * 8)
			gradient.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}

	assert.NotEqual(t, HashImage(flat), HashImage(gradient))
}
