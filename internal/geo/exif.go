package geo

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jdeng/goheif"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/dharsanguruparan/vanguard/internal/imaging"
	"github.com/dharsanguruparan/vanguard/internal/model"
)

// ErrNoGPS is returned by extractors when the image carries no usable
// latitude/longitude pair.
var ErrNoGPS = errors.New("no gps metadata")

// Extractor reads an embedded coordinate pair from a decoded image.
type Extractor interface {
	Extract(ctx context.Context, img *imaging.Decoded) (model.Coordinates, error)
}

// EXIFExtractor reads GPS tags with goexif. It understands EXIF blocks in
// JPEG APP1 segments, PNG eXIf chunks, WebP EXIF chunks and HEIF containers.
type EXIFExtractor struct{}

// Extract implements Extractor.
func (EXIFExtractor) Extract(ctx context.Context, img *imaging.Decoded) (model.Coordinates, error) {
	block, err := exifBlock(img)
	if err != nil {
		return model.Coordinates{}, err
	}
	if err := checkTIFF(block); err != nil {
		return model.Coordinates{}, err
	}
	x, err := decodeEXIF(block)
	if err != nil {
		return model.Coordinates{}, err
	}
	lat, err := gpsComponent(x, exif.GPSLatitude, exif.GPSLatitudeRef)
	if err != nil {
		return model.Coordinates{}, err
	}
	lon, err := gpsComponent(x, exif.GPSLongitude, exif.GPSLongitudeRef)
	if err != nil {
		return model.Coordinates{}, err
	}
	return validate(lat, lon)
}

// FromDMS converts a degrees/minutes/seconds triple to signed decimal degrees.
// An S or W hemisphere reference negates the result.
func FromDMS(deg, minutes, seconds float64, ref string) float64 {
	v := deg + minutes/60.0 + seconds/3600.0
	switch strings.ToUpper(strings.TrimSpace(ref)) {
	case "S", "W", "SOUTH", "WEST":
		return -v
	}
	return v
}

func gpsComponent(x *exif.Exif, valueField, refField exif.FieldName) (float64, error) {
	tag, err := x.Get(valueField)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", valueField, ErrNoGPS)
	}
	refTag, err := x.Get(refField)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", refField, ErrNoGPS)
	}
	if tag.Format() != tiff.RatVal || tag.Count < 3 {
		return 0, fmt.Errorf("%s: unexpected format", valueField)
	}
	var parts [3]float64
	for i := range parts {
		num, den, err := tag.Rat2(i)
		if err != nil {
			return 0, fmt.Errorf("%s[%d]: %w", valueField, i, err)
		}
		if den == 0 {
			return 0, fmt.Errorf("%s[%d]: zero denominator", valueField, i)
		}
		parts[i] = float64(num) / float64(den)
	}
	ref, err := refTag.StringVal()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", refField, err)
	}
	return FromDMS(parts[0], parts[1], parts[2], strings.Trim(ref, "\x00 ")), nil
}

func validate(lat, lon float64) (model.Coordinates, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return model.Coordinates{}, fmt.Errorf("coordinates out of range: %f, %f", lat, lon)
	}
	return model.Coordinates{Lat: lat, Lon: lon, Source: model.SourceEXIF}, nil
}

// decodeEXIF runs goexif on a TIFF stream that already passed checkTIFF.
func decodeEXIF(block []byte) (x *exif.Exif, err error) {
	defer func() {
		if p := recover(); p != nil {
			x, err = nil, fmt.Errorf("decode exif: %v", p)
		}
	}()
	x, err = exif.Decode(bytes.NewReader(block))
	if err != nil {
		return nil, fmt.Errorf("decode exif: %w", err)
	}
	return x, nil
}

// exifBlock returns the TIFF stream holding the image's EXIF directories.
func exifBlock(img *imaging.Decoded) ([]byte, error) {
	switch img.Format {
	case imaging.FormatJPEG:
		return jpegAPP1(img.Source)
	case imaging.FormatPNG:
		raw, err := pngChunk(img.Source, "eXIf")
		if err != nil {
			return nil, err
		}
		return trimToTIFF(raw)
	case imaging.FormatWebP:
		return riffChunk(img.Source, "EXIF")
	case imaging.FormatHEIC, imaging.FormatHEIF:
		raw, err := goheif.ExtractExif(bytes.NewReader(img.Source))
		if err != nil {
			return nil, fmt.Errorf("heif exif: %w", ErrNoGPS)
		}
		return trimToTIFF(raw)
	}
	return nil, ErrNoGPS
}

// jpegAPP1 scans the marker segments in front of the scan data for an APP1
// segment carrying an EXIF header.
func jpegAPP1(data []byte) ([]byte, error) {
	for off := 2; off+4 <= len(data); {
		if data[off] != 0xFF {
			break
		}
		marker := data[off+1]
		switch {
		case marker == 0xFF:
			off++
			continue
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			off += 2
			continue
		case marker == 0xD9 || marker == 0xDA:
			return nil, ErrNoGPS
		}
		n := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
		start, end := off+4, off+2+n
		if n < 2 || end > len(data) {
			break
		}
		if marker == 0xE1 && bytes.HasPrefix(data[start:end], []byte("Exif\x00\x00")) {
			return trimToTIFF(data[start:end])
		}
		off = end
	}
	return nil, ErrNoGPS
}

func pngChunk(data []byte, kind string) ([]byte, error) {
	const sigLen = 8
	for off := sigLen; off+8 <= len(data); {
		n := int(binary.BigEndian.Uint32(data[off : off+4]))
		typ := string(data[off+4 : off+8])
		start, end := off+8, off+8+n
		if n < 0 || end+4 > len(data) {
			break
		}
		if typ == kind {
			return data[start:end], nil
		}
		if typ == "IEND" {
			break
		}
		off = end + 4
	}
	return nil, ErrNoGPS
}

func riffChunk(data []byte, kind string) ([]byte, error) {
	for off := 12; off+8 <= len(data); {
		typ := string(data[off : off+4])
		n := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		start, end := off+8, off+8+n
		if n < 0 || end > len(data) {
			break
		}
		if typ == kind {
			return trimToTIFF(data[start:end])
		}
		off = end + n%2
	}
	return nil, ErrNoGPS
}

// trimToTIFF drops any container prefix in front of the TIFF header.
func trimToTIFF(raw []byte) ([]byte, error) {
	if i := bytes.Index(raw, []byte("Exif\x00\x00")); i >= 0 {
		raw = raw[i+6:]
	}
	for _, marker := range [][]byte{[]byte("II*\x00"), []byte("MM\x00*")} {
		if i := bytes.Index(raw, marker); i >= 0 {
			return raw[i:], nil
		}
	}
	return nil, ErrNoGPS
}
