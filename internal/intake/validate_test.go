package intake

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/dharsanguruparan/vanguard/internal/config"
	"github.com/dharsanguruparan/vanguard/internal/imaging"
)

const testCap = config.MaxUploadBytes

func newValidator() *Validator {
	return NewValidator(testCap, config.AcceptedMediaTypes)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * y), G: uint8(x + y), B: uint8(x ^ y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// streamOnly hides any Seek method and counts the bytes handed out.
type streamOnly struct {
	r    io.Reader
	read int64
}

func (s *streamOnly) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.read += int64(n)
	return n, err
}

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// brokenSeeker reports itself seekable but cannot measure its size.
type brokenSeeker struct{ *bytes.Reader }

func (brokenSeeker) Seek(int64, int) (int64, error) { return 0, errors.New("not supported") }

func offset(t *testing.T, s io.Seeker) int64 {
	t.Helper()
	pos, err := s.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	return pos
}

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var rej *Rejection
	require.True(t, errors.As(err, &rej), "expected *Rejection, got %v", err)
	return rej.Reason
}

func TestValidateMediaType(t *testing.T) {
	data := pngBytes(t, 4, 4)
	cases := []struct {
		mediaType string
		want      Reason
	}{
		{"text/plain", NotAnImage},
		{"", NotAnImage},
		{"application/octet-stream", NotAnImage},
		{"image/gif", UnsupportedMediaType},
		{"image/bmp", UnsupportedMediaType},
		{"image/svg+xml", UnsupportedMediaType},
	}
	for _, tc := range cases {
		t.Run(tc.mediaType, func(t *testing.T) {
			src := &streamOnly{r: bytes.NewReader(data)}
			_, _, err := newValidator().Validate(src, tc.mediaType)
			assert.Equal(t, tc.want, reasonOf(t, err))
			assert.Zero(t, src.read, "no bytes may be read before the media type check passes")
		})
	}
}

func TestValidateNormalizesMediaType(t *testing.T) {
	data := pngBytes(t, 4, 4)
	for _, mt := range []string{"image/png", "IMAGE/PNG", "image/png; charset=binary", "image/jpg"} {
		_, size, err := newValidator().Validate(bytes.NewReader(data), mt)
		require.NoError(t, err, mt)
		assert.Equal(t, int64(len(data)), size)
	}
}

func TestValidateSeekableRewinds(t *testing.T) {
	data := jpegBytes(t, 32, 32)
	src := bytes.NewReader(data)

	rs, size, err := newValidator().Validate(src, "image/jpeg")
	require.NoError(t, err)
	assert.Same(t, src, rs)
	assert.Equal(t, int64(len(data)), size)
	assert.Zero(t, offset(t, src))

	garbage := bytes.NewReader([]byte("this is definitely not a jpeg"))
	_, _, err = newValidator().Validate(garbage, "image/jpeg")
	assert.Equal(t, InvalidImage, reasonOf(t, err))
	assert.Zero(t, offset(t, garbage))
}

func TestValidateSizeBoundary(t *testing.T) {
	base := pngBytes(t, 8, 8)
	// PNG decoders stop at IEND, so trailing padding keeps the image valid.
	atCap := append(append([]byte{}, base...), make([]byte, int(testCap)-len(base))...)
	overCap := append(append([]byte{}, atCap...), 0)

	_, size, err := newValidator().Validate(bytes.NewReader(atCap), "image/png")
	require.NoError(t, err)
	assert.Equal(t, testCap, size)

	src := bytes.NewReader(overCap)
	_, _, err = newValidator().Validate(src, "image/png")
	assert.Equal(t, TooLarge, reasonOf(t, err))
	assert.Zero(t, offset(t, src))

	rs, size, err := newValidator().Validate(&streamOnly{r: bytes.NewReader(atCap)}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, testCap, size)
	_, isBytes := rs.(*bytes.Reader)
	assert.True(t, isBytes)
	assert.Zero(t, offset(t, rs))

	_, _, err = newValidator().Validate(&streamOnly{r: bytes.NewReader(overCap)}, "image/png")
	assert.Equal(t, TooLarge, reasonOf(t, err))
}

func TestValidateStreamStopsAtCap(t *testing.T) {
	src := &streamOnly{r: zeros{}}
	_, _, err := newValidator().Validate(src, "image/jpeg")
	assert.Equal(t, TooLarge, reasonOf(t, err))
	assert.LessOrEqual(t, src.read, testCap+1)
}

func TestValidateFallsBackWhenSeekFails(t *testing.T) {
	data := pngBytes(t, 4, 4)
	rs, size, err := newValidator().Validate(brokenSeeker{bytes.NewReader(data)}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	got, err := io.ReadAll(rs)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestValidateStructure(t *testing.T) {
	jpg := jpegBytes(t, 16, 16)
	var bmpBuf bytes.Buffer
	require.NoError(t, bmp.Encode(&bmpBuf, image.NewRGBA(image.Rect(0, 0, 4, 4))))

	cases := []struct {
		name      string
		data      []byte
		mediaType string
		want      Reason
	}{
		{"random bytes", []byte("\x00\x01\x02\x03 random"), "image/png", InvalidImage},
		{"empty", nil, "image/png", InvalidImage},
		{"truncated jpeg", jpg[:len(jpg)/3], "image/jpeg", InvalidImage},
		{"bmp declared as png", bmpBuf.Bytes(), "image/png", UnsupportedMediaType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := newValidator().Validate(bytes.NewReader(tc.data), tc.mediaType)
			assert.Equal(t, tc.want, reasonOf(t, err))
		})
	}
}

func TestValidateRejectsPixelBomb(t *testing.T) {
	// A small PNG whose IHDR is rewritten to declare 12000x12000 pixels.
	data := pngBytes(t, 4, 4)
	binary.BigEndian.PutUint32(data[16:], 12000)
	binary.BigEndian.PutUint32(data[20:], 12000)
	binary.BigEndian.PutUint32(data[29:], crc32.ChecksumIEEE(data[12:29]))

	src := bytes.NewReader(data)
	_, _, err := newValidator().Validate(src, "image/png")
	assert.Equal(t, InvalidImage, reasonOf(t, err))
	assert.ErrorIs(t, err, imaging.ErrTooManyPixels)
	assert.Zero(t, offset(t, src))
}

func TestReasonStatus(t *testing.T) {
	assert.Equal(t, 400, NotAnImage.Status())
	assert.Equal(t, 415, UnsupportedMediaType.Status())
	assert.Equal(t, 413, TooLarge.Status())
	assert.Equal(t, 400, InvalidImage.Status())
	assert.Equal(t, "too_large", TooLarge.Code())
}
