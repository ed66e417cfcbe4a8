// Package imaging sniffs, verifies and decodes uploaded photos into the
// canonical opaque RGBA buffer consumed by geolocation and classification.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
)

// Format identifies an image codec by its magic bytes.
type Format string

const (
	FormatUnknown Format = ""
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatGIF     Format = "gif"
	FormatWebP    Format = "webp"
	FormatHEIC    Format = "heic"
	FormatHEIF    Format = "heif"
	FormatBMP     Format = "bmp"
	FormatTIFF    Format = "tiff"
	FormatAVIF    Format = "avif"
)

// SniffLen is the number of leading bytes Sniff looks at.
const SniffLen = 64

// ErrUnrecognized means the bytes do not start with any known image signature.
var ErrUnrecognized = errors.New("unrecognized image data")

// ErrCorrupt wraps decoder failures for data whose signature was recognised.
var ErrCorrupt = errors.New("corrupt image data")

// MaxPixels caps the decoded size of an image (40 megapixels).
const MaxPixels = 40_000_000

// ErrTooManyPixels is returned before decoding images whose header declares
// more than MaxPixels pixels.
var ErrTooManyPixels = errors.New("image exceeds pixel limit")

// UnsupportedFormatError reports a well-formed image in a codec the service
// does not accept.
type UnsupportedFormatError struct {
	Format Format
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported image codec %q", e.Format)
}

// Supported reports whether uploads in this codec are accepted.
func (f Format) Supported() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatGIF, FormatWebP, FormatHEIC, FormatHEIF:
		return true
	}
	return false
}

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte("\x89PNG\r\n\x1a\n")
	tiffLE    = []byte("II*\x00")
	tiffBE    = []byte("MM\x00*")
)

var heicBrands = map[string]bool{
	"heic": true, "heix": true, "hevc": true, "hevx": true,
	"heim": true, "heis": true, "hevm": true, "hevs": true,
}

// Sniff classifies data by its leading bytes.
func Sniff(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, jpegMagic):
		return FormatJPEG
	case bytes.HasPrefix(head, pngMagic):
		return FormatPNG
	case bytes.HasPrefix(head, []byte("GIF87a")), bytes.HasPrefix(head, []byte("GIF89a")):
		return FormatGIF
	case len(head) >= 12 && string(head[0:4]) == "RIFF" && string(head[8:12]) == "WEBP":
		return FormatWebP
	case bytes.HasPrefix(head, []byte("BM")) && len(head) >= 14:
		return FormatBMP
	case bytes.HasPrefix(head, tiffLE), bytes.HasPrefix(head, tiffBE):
		return FormatTIFF
	case len(head) >= 12 && string(head[4:8]) == "ftyp":
		return sniffISOBMFF(head)
	}
	return FormatUnknown
}

// sniffISOBMFF reads the ftyp box: major brand at 8..12, minor version at
// 12..16, compatible brands after that up to the box size.
func sniffISOBMFF(head []byte) Format {
	major := string(head[8:12])
	if heicBrands[major] {
		return FormatHEIC
	}
	if major == "avif" || major == "avis" {
		return FormatAVIF
	}
	if major != "mif1" && major != "msf1" {
		return FormatUnknown
	}
	size := int(head[0])<<24 | int(head[1])<<16 | int(head[2])<<8 | int(head[3])
	if size > len(head) {
		size = len(head)
	}
	var heic bool
	for off := 16; off+4 <= size; off += 4 {
		brand := string(head[off : off+4])
		switch {
		case brand == "avif" || brand == "avis":
			return FormatAVIF
		case heicBrands[brand]:
			heic = true
		}
	}
	if heic {
		return FormatHEIC
	}
	return FormatHEIF
}
