package geo

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedEXIF marks EXIF directories whose offsets or value sizes do not
// fit inside the block that carries them.
var ErrMalformedEXIF = errors.New("malformed exif")

// maxIFDs bounds the number of directories checkTIFF will visit.
const maxIFDs = 16

// TIFF tags holding offsets of sub-directories goexif follows.
const (
	tagExifIFD    = 0x8769
	tagGPSIFD     = 0x8825
	tagInteropIFD = 0xA005
)

var tiffTypeSize = map[uint16]uint64{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1,
	7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

// checkTIFF walks the IFD chain and the Exif, GPS and Interop sub-directories
// of a TIFF stream. Every directory and tag value must lie inside data and the
// chain must not loop. A stream that fails here is never handed to goexif.
func checkTIFF(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("%w: short header", ErrMalformedEXIF)
	}
	var order binary.ByteOrder
	switch string(data[:4]) {
	case "II*\x00":
		order = binary.LittleEndian
	case "MM\x00*":
		order = binary.BigEndian
	default:
		return fmt.Errorf("%w: bad byte order", ErrMalformedEXIF)
	}

	w := &ifdWalker{data: data, order: order, seen: map[uint32]bool{}}
	for next := order.Uint32(data[4:8]); next != 0; {
		if w.seen[next] {
			return fmt.Errorf("%w: ifd chain loops at %d", ErrMalformedEXIF, next)
		}
		var err error
		if next, err = w.dir(next); err != nil {
			return err
		}
	}
	for len(w.pending) > 0 {
		off := w.pending[0]
		w.pending = w.pending[1:]
		if w.seen[off] {
			continue
		}
		if _, err := w.dir(off); err != nil {
			return err
		}
	}
	return nil
}

type ifdWalker struct {
	data    []byte
	order   binary.ByteOrder
	seen    map[uint32]bool
	pending []uint32
}

// dir checks the directory at off and returns the offset of the next one.
func (w *ifdWalker) dir(off uint32) (uint32, error) {
	if len(w.seen) >= maxIFDs {
		return 0, fmt.Errorf("%w: too many directories", ErrMalformedEXIF)
	}
	w.seen[off] = true

	size := uint64(len(w.data))
	start := uint64(off)
	if start+2 > size {
		return 0, fmt.Errorf("%w: directory at %d past end", ErrMalformedEXIF, off)
	}
	n := uint64(w.order.Uint16(w.data[start:]))
	end := start + 2 + 12*n + 4
	if end > size {
		return 0, fmt.Errorf("%w: directory at %d truncated", ErrMalformedEXIF, off)
	}

	for i := uint64(0); i < n; i++ {
		entry := w.data[start+2+12*i : start+2+12*i+12]
		tag := w.order.Uint16(entry[0:2])
		typ := w.order.Uint16(entry[2:4])
		count := uint64(w.order.Uint32(entry[4:8]))

		unit, ok := tiffTypeSize[typ]
		if !ok {
			return 0, fmt.Errorf("%w: tag %#x has type %d", ErrMalformedEXIF, tag, typ)
		}
		total := count * unit
		if total == 0 || total > size {
			return 0, fmt.Errorf("%w: tag %#x count %d", ErrMalformedEXIF, tag, count)
		}
		value := entry[8:12]
		if total > 4 {
			valOff := uint64(w.order.Uint32(entry[8:12]))
			if valOff+total > size {
				return 0, fmt.Errorf("%w: tag %#x value past end", ErrMalformedEXIF, tag)
			}
			value = w.data[valOff : valOff+total]
		}

		switch tag {
		case tagExifIFD, tagGPSIFD, tagInteropIFD:
			ptr, err := w.pointer(typ, value)
			if err != nil {
				return 0, fmt.Errorf("tag %#x: %w", tag, err)
			}
			w.pending = append(w.pending, ptr)
		}
	}
	return w.order.Uint32(w.data[end-4 : end]), nil
}

func (w *ifdWalker) pointer(typ uint16, value []byte) (uint32, error) {
	switch typ {
	case 3:
		return uint32(w.order.Uint16(value)), nil
	case 4:
		return w.order.Uint32(value), nil
	}
	return 0, fmt.Errorf("%w: pointer of type %d", ErrMalformedEXIF, typ)
}
