package geo

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/barasher/go-exiftool"

	"github.com/dharsanguruparan/vanguard/internal/imaging"
	"github.com/dharsanguruparan/vanguard/internal/model"
)

// ExiftoolExtractor asks a long-running exiftool process for GPS tags. It
// covers containers goexif cannot read. Calls are serialized because the
// exiftool process handles one request at a time.
type ExiftoolExtractor struct {
	mu sync.Mutex
	et *exiftool.Exiftool
}

// NewExiftoolExtractor starts exiftool. It fails when the binary is missing.
func NewExiftoolExtractor() (*ExiftoolExtractor, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	return &ExiftoolExtractor{et: et}, nil
}

// Close stops the exiftool process.
func (e *ExiftoolExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.et.Close()
}

// Extract implements Extractor.
func (e *ExiftoolExtractor) Extract(ctx context.Context, img *imaging.Decoded) (model.Coordinates, error) {
	tmp, err := os.CreateTemp("", "vanguard-exif-*."+string(img.Format))
	if err != nil {
		return model.Coordinates{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(img.Source); err != nil {
		tmp.Close()
		return model.Coordinates{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return model.Coordinates{}, fmt.Errorf("close temp file: %w", err)
	}

	e.mu.Lock()
	infos := e.et.ExtractMetadata(tmp.Name())
	e.mu.Unlock()
	if len(infos) == 0 {
		return model.Coordinates{}, ErrNoGPS
	}
	if infos[0].Err != nil {
		return model.Coordinates{}, fmt.Errorf("exiftool: %w", infos[0].Err)
	}
	return coordinatesFromFields(infos[0].Fields)
}

func coordinatesFromFields(fields map[string]interface{}) (model.Coordinates, error) {
	lat, err := dmsField(fields, "GPSLatitude", "GPSLatitudeRef")
	if err != nil {
		return model.Coordinates{}, err
	}
	lon, err := dmsField(fields, "GPSLongitude", "GPSLongitudeRef")
	if err != nil {
		return model.Coordinates{}, err
	}
	return validate(lat, lon)
}

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// dmsField parses exiftool's default rendering, e.g. `52 deg 30' 0.00" N`.
// The hemisphere comes from a trailing letter or from the separate Ref tag
// ("North", "S", ...).
func dmsField(fields map[string]interface{}, key, refKey string) (float64, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("%s: %w", key, ErrNoGPS)
	}
	text := strings.TrimSpace(fmt.Sprint(raw))
	nums := numberPattern.FindAllString(text, 3)
	if len(nums) == 0 {
		return 0, fmt.Errorf("%s: malformed value %q", key, text)
	}
	var parts [3]float64
	for i, n := range nums {
		v, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		parts[i] = v
	}
	ref := ""
	if r, ok := fields[refKey]; ok {
		ref = fmt.Sprint(r)
	}
	if last := text[len(text)-1:]; strings.ContainsAny(last, "NSEWnsew") {
		ref = last
	}
	if ref == "" {
		return 0, fmt.Errorf("%s: %w", refKey, ErrNoGPS)
	}
	v := FromDMS(parts[0], parts[1], parts[2], ref[:1])
	if strings.HasPrefix(text, "-") {
		v = -v
	}
	return v, nil
}
