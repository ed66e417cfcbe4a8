package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	return img
}

func encode(t *testing.T, fn func(*bytes.Buffer) error) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, fn(&buf))
	return buf.Bytes()
}

// pngHeader returns a PNG signature followed by an IHDR chunk declaring a
// w by h 8-bit grayscale image and no pixel data.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 0, 25)
	ihdr = binary.BigEndian.AppendUint32(ihdr, 13)
	ihdr = append(ihdr, "IHDR"...)
	ihdr = binary.BigEndian.AppendUint32(ihdr, w)
	ihdr = binary.BigEndian.AppendUint32(ihdr, h)
	ihdr = append(ihdr, 8, 0, 0, 0, 0)
	ihdr = binary.BigEndian.AppendUint32(ihdr, crc32.ChecksumIEEE(ihdr[4:]))
	return append([]byte("\x89PNG\r\n\x1a\n"), ihdr...)
}

func ftyp(major string, compat ...string) []byte {
	box := []byte{0, 0, 0, 0}
	box = append(box, "ftyp"...)
	box = append(box, major...)
	box = append(box, 0, 0, 0, 0)
	for _, c := range compat {
		box = append(box, c...)
	}
	box[3] = byte(len(box))
	return box
}

func TestSniff(t *testing.T) {
	img := testImage(8, 8)
	cases := []struct {
		name string
		data []byte
		want Format
	}{
		{"jpeg", encode(t, func(b *bytes.Buffer) error { return jpeg.Encode(b, img, nil) }), FormatJPEG},
		{"png", encode(t, func(b *bytes.Buffer) error { return png.Encode(b, img) }), FormatPNG},
		{"gif", encode(t, func(b *bytes.Buffer) error { return gif.Encode(b, img, nil) }), FormatGIF},
		{"bmp", encode(t, func(b *bytes.Buffer) error { return bmp.Encode(b, img) }), FormatBMP},
		{"webp", append([]byte("RIFF\x00\x00\x00\x00WEBPVP8 "), 0, 0), FormatWebP},
		{"tiff", []byte("II*\x00\x08\x00\x00\x00"), FormatTIFF},
		{"heic", ftyp("heic", "mif1", "heic"), FormatHEIC},
		{"heif generic", ftyp("mif1", "mif1"), FormatHEIF},
		{"heif with hevc brand", ftyp("mif1", "mif1", "heic"), FormatHEIC},
		{"avif", ftyp("avif", "mif1"), FormatAVIF},
		{"avif via mif1", ftyp("mif1", "avif"), FormatAVIF},
		{"mp4", ftyp("isom", "mp41"), FormatUnknown},
		{"text", []byte("hello world"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Sniff(tc.data))
		})
	}
}

func TestVerify(t *testing.T) {
	img := testImage(16, 16)
	pngData := encode(t, func(b *bytes.Buffer) error { return png.Encode(b, img) })
	bmpData := encode(t, func(b *bytes.Buffer) error { return bmp.Encode(b, img) })

	format, err := Verify(pngData)
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, format)

	_, err = Verify(bmpData)
	var unsupported *UnsupportedFormatError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, FormatBMP, unsupported.Format)

	_, err = Verify([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrUnrecognized)

	_, err = Verify(pngData[:len(pngData)/2])
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Verify(bmpData[:20])
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeFlattensAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(3, 3, 7, 5))
	src.Set(3, 3, color.NRGBA{A: 0})
	src.Set(4, 3, color.NRGBA{R: 255, A: 255})
	data := encode(t, func(b *bytes.Buffer) error { return png.Encode(b, src) })

	dec, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, dec.Format)
	assert.Equal(t, image.Rect(0, 0, 4, 2), dec.Image.Bounds())
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, dec.Image.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 255, A: 255}, dec.Image.RGBAAt(1, 0))
	assert.Equal(t, data, dec.Source)
}

func TestThumbnail(t *testing.T) {
	wide := Thumbnail(testImage(640, 200), 320)
	assert.Equal(t, image.Rect(0, 0, 320, 100), wide.Bounds())

	tall := Thumbnail(testImage(100, 400), 320)
	assert.Equal(t, image.Rect(0, 0, 80, 320), tall.Bounds())

	small := Thumbnail(testImage(10, 20), 320)
	assert.Equal(t, image.Rect(0, 0, 10, 20), small.Bounds())
}

func TestEncodeJPEGRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeJPEG(&buf, testImage(32, 24), 85))
	dec, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, dec.Format)
	assert.Equal(t, image.Rect(0, 0, 32, 24), dec.Image.Bounds())
}

func TestPixelLimit(t *testing.T) {
	bomb := pngHeader(12000, 12000)

	format, err := Verify(bomb)
	assert.Equal(t, FormatPNG, format)
	assert.ErrorIs(t, err, ErrTooManyPixels)

	_, err = Decode(bomb)
	assert.ErrorIs(t, err, ErrTooManyPixels)

	// Header-only data within the budget gets as far as the pixel decoder.
	_, err = Verify(pngHeader(100, 100))
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.NotErrorIs(t, err, ErrTooManyPixels)
}

func TestPixelLimitJPEG(t *testing.T) {
	data := encode(t, func(b *bytes.Buffer) error { return jpeg.Encode(b, testImage(8, 8), nil) })
	// Rewrite the SOF0 dimensions to 10000x10000.
	for i := 2; i+9 < len(data); i++ {
		if data[i] == 0xFF && data[i+1] == 0xC0 {
			binary.BigEndian.PutUint16(data[i+5:], 10000)
			binary.BigEndian.PutUint16(data[i+7:], 10000)
			break
		}
	}
	_, err := Verify(data)
	assert.ErrorIs(t, err, ErrTooManyPixels)
}
