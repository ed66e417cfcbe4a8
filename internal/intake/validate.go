// Package intake runs the photo intake pipeline: validate the upload, decode
// it, resolve coordinates, classify, gate on confidence and persist.
package intake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/dharsanguruparan/vanguard/internal/imaging"
)

const readChunk = 64 << 10

// Validator enforces media type, size and structural checks on an upload.
type Validator struct {
	maxBytes int64
	accepted map[string]bool
}

// NewValidator builds a Validator for the given cap and media type allow-list.
func NewValidator(maxBytes int64, accepted []string) *Validator {
	set := make(map[string]bool, len(accepted))
	for _, t := range accepted {
		set[strings.ToLower(t)] = true
	}
	return &Validator{maxBytes: maxBytes, accepted: set}
}

// MaxBytes returns the upload cap.
func (v *Validator) MaxBytes() int64 { return v.maxBytes }

// Validate checks r against mediaType and returns a stream positioned at
// offset 0 together with its size. Seekable inputs are rewound on every exit
// path; other inputs are buffered (never beyond the cap plus one byte) and
// returned as a *bytes.Reader.
func (v *Validator) Validate(r io.Reader, mediaType string) (io.ReadSeeker, int64, error) {
	data, rs, err := v.check(r, mediaType)
	if err != nil {
		return rs, 0, err
	}
	return rs, int64(len(data)), nil
}

// check does the work of Validate and also hands back the bytes read.
func (v *Validator) check(r io.Reader, mediaType string) ([]byte, io.ReadSeeker, error) {
	declared := normalizeMediaType(mediaType)
	if !strings.HasPrefix(declared, "image/") {
		return nil, seekerOf(r), reject(NotAnImage, "uploaded file is not an image", nil)
	}
	if !v.accepted[declared] {
		return nil, seekerOf(r), reject(UnsupportedMediaType, "unsupported media type: "+declared, nil)
	}

	var (
		data []byte
		rs   io.ReadSeeker
		err  error
	)
	if seeker, ok := r.(io.ReadSeeker); ok {
		data, err = v.readSeekable(seeker)
		rs = seeker
		if errors.Is(err, errSeek) {
			data, err = v.readStream(r)
			rs = nil
		}
	} else {
		data, err = v.readStream(r)
	}
	if rs == nil && data != nil {
		rs = bytes.NewReader(data)
	}
	if err != nil {
		return nil, rs, err
	}

	if _, err := imaging.Verify(data); err != nil {
		var unsupported *imaging.UnsupportedFormatError
		if errors.As(err, &unsupported) {
			return nil, rs, reject(UnsupportedMediaType, fmt.Sprintf("unsupported image format: %s", unsupported.Format), err)
		}
		if errors.Is(err, imaging.ErrTooManyPixels) {
			return nil, rs, reject(InvalidImage, fmt.Sprintf("image exceeds %d pixels", imaging.MaxPixels), err)
		}
		return nil, rs, reject(InvalidImage, "uploaded file is not a valid image", err)
	}
	return data, rs, nil
}

var errSeek = errors.New("seek failed")

func (v *Validator) readSeekable(s io.ReadSeeker) ([]byte, error) {
	size, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errSeek
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return nil, errSeek
	}
	if size > v.maxBytes {
		return nil, v.tooLarge()
	}
	data, err := io.ReadAll(io.LimitReader(s, v.maxBytes+1))
	if _, serr := s.Seek(0, io.SeekStart); err == nil && serr != nil {
		err = serr
	}
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > v.maxBytes {
		return nil, v.tooLarge()
	}
	return data, nil
}

func (v *Validator) readStream(r io.Reader) ([]byte, error) {
	lr := io.LimitReader(r, v.maxBytes+1)
	var buf bytes.Buffer
	chunk := make([]byte, readChunk)
	for {
		n, err := lr.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if int64(buf.Len()) > v.maxBytes {
				return nil, v.tooLarge()
			}
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
	}
}

func (v *Validator) tooLarge() *Rejection {
	return reject(TooLarge, fmt.Sprintf("file exceeds %d bytes", v.maxBytes), nil)
}

// normalizeMediaType drops parameters and case-folds the type.
func normalizeMediaType(mediaType string) string {
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		return parsed
	}
	base, _, _ := strings.Cut(mediaType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func seekerOf(r io.Reader) io.ReadSeeker {
	rs, _ := r.(io.ReadSeeker)
	return rs
}
