package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/jdeng/goheif"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// Decoded is an image flattened to an opaque RGBA buffer. Source keeps the
// original bytes so metadata readers can look at EXIF blocks.
type Decoded struct {
	Image  *image.RGBA
	Format Format
	Source []byte
}

// Verify checks that data is a structurally valid image in a supported codec.
// It returns ErrUnrecognized for unknown signatures, *UnsupportedFormatError
// for well-formed images in other codecs, an ErrTooManyPixels-wrapped error
// for images over MaxPixels and an ErrCorrupt-wrapped error when decoding
// fails.
func Verify(data []byte) (Format, error) {
	format := Sniff(head(data))
	switch {
	case format == FormatUnknown:
		return format, ErrUnrecognized
	case format == FormatAVIF:
		return format, &UnsupportedFormatError{Format: format}
	case !format.Supported():
		if err := checkConfig(format, data); err != nil {
			return format, err
		}
		return format, &UnsupportedFormatError{Format: format}
	}
	if _, err := decodeRaw(format, data); err != nil {
		return format, err
	}
	return format, nil
}

// Decode decodes data and flattens it onto an opaque white background.
func Decode(data []byte) (*Decoded, error) {
	format := Sniff(head(data))
	if format == FormatUnknown {
		return nil, ErrUnrecognized
	}
	if !format.Supported() {
		return nil, &UnsupportedFormatError{Format: format}
	}
	img, err := decodeRaw(format, data)
	if err != nil {
		return nil, err
	}
	return &Decoded{Image: Flatten(img), Format: format, Source: data}, nil
}

// Flatten draws img over white into a new RGBA buffer with its origin at 0,0.
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// Thumbnail scales img so its longest side is at most maxSide pixels. Smaller
// images are returned flattened but unscaled.
func Thumbnail(img image.Image, maxSide int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return Flatten(img)
	}
	if w >= h {
		h = max(1, h*maxSide/w)
		w = maxSide
	} else {
		w = max(1, w*maxSide/h)
		h = maxSide
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// EncodeJPEG writes img as a JPEG with the given quality.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return nil
}

func head(data []byte) []byte {
	if len(data) > SniffLen {
		return data[:SniffLen]
	}
	return data
}

func decodeRaw(format Format, data []byte) (image.Image, error) {
	if err := checkDimensions(format, data); err != nil {
		return nil, err
	}
	r := bytes.NewReader(data)
	var (
		img image.Image
		err error
	)
	switch format {
	case FormatJPEG:
		img, err = jpeg.Decode(r)
	case FormatPNG:
		img, err = png.Decode(r)
	case FormatGIF:
		img, err = gif.Decode(r)
	case FormatWebP:
		img, err = webp.Decode(r)
	case FormatHEIC, FormatHEIF:
		img, err = decodeHEIF(r)
	default:
		return nil, &UnsupportedFormatError{Format: format}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, format, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: %s: empty image", ErrCorrupt, format)
	}
	return img, nil
}

// checkDimensions reads only the image header and rejects images larger than
// MaxPixels.
func checkDimensions(format Format, data []byte) error {
	r := bytes.NewReader(data)
	var (
		cfg image.Config
		err error
	)
	switch format {
	case FormatJPEG:
		cfg, err = jpeg.DecodeConfig(r)
	case FormatPNG:
		cfg, err = png.DecodeConfig(r)
	case FormatGIF:
		cfg, err = gif.DecodeConfig(r)
	case FormatWebP:
		cfg, err = webp.DecodeConfig(r)
	case FormatHEIC, FormatHEIF:
		cfg, err = decodeHEIFConfig(r)
	default:
		return &UnsupportedFormatError{Format: format}
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, format, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: %s: empty image", ErrCorrupt, format)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return fmt.Errorf("%w: %s is %dx%d", ErrTooManyPixels, format, cfg.Width, cfg.Height)
	}
	return nil
}

func decodeHEIFConfig(r io.Reader) (cfg image.Config, err error) {
	defer func() {
		if p := recover(); p != nil {
			cfg, err = image.Config{}, fmt.Errorf("heif decoder: %v", p)
		}
	}()
	return goheif.DecodeConfig(r)
}

// decodeHEIF guards the cgo decoder, which can panic on truncated input.
func decodeHEIF(r io.Reader) (img image.Image, err error) {
	defer func() {
		if p := recover(); p != nil {
			img, err = nil, fmt.Errorf("heif decoder: %v", p)
		}
	}()
	return goheif.Decode(r)
}

func checkConfig(format Format, data []byte) error {
	r := bytes.NewReader(data)
	var err error
	switch format {
	case FormatBMP:
		_, err = bmp.DecodeConfig(r)
	case FormatTIFF:
		_, err = tiff.DecodeConfig(r)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, format, err)
	}
	return nil
}
