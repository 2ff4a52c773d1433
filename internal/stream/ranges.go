package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedRange is returned by ResolveRange when the Range header cannot
// be satisfied: bad syntax, end before start, or a start at or past the end
// of the object. The HTTP layer maps it to 416.
var ErrMalformedRange = errors.New("malformed range")

const bytesUnitPrefix = "bytes="

// ResolveRange parses an HTTP Range header against an object of total bytes.
// An empty header means the client wants the full body: partial is false and
// spec covers the whole object. Otherwise the header must have the form
// "bytes=<start>-[<end>]"; a missing end means end-of-object. An end past the
// end of the object is clamped to total-1 rather than rejected, so players
// that over-request at the tail still get a playable response.
func ResolveRange(header string, total int64) (spec RangeSpec, partial bool, err error) {
	if header == "" {
		return RangeSpec{Start: 0, End: total - 1, Total: total}, false, nil
	}

	if !strings.HasPrefix(header, bytesUnitPrefix) {
		return RangeSpec{}, false, fmt.Errorf("%w: unsupported unit in %q", ErrMalformedRange, header)
	}

	startStr, endStr, ok := strings.Cut(strings.TrimPrefix(header, bytesUnitPrefix), "-")
	if !ok {
		return RangeSpec{}, false, fmt.Errorf("%w: missing separator in %q", ErrMalformedRange, header)
	}

	start, perr := strconv.ParseInt(startStr, 10, 64)
	if perr != nil || start < 0 {
		return RangeSpec{}, false, fmt.Errorf("%w: invalid start %q", ErrMalformedRange, startStr)
	}

	end := total - 1
	if endStr != "" {
		end, perr = strconv.ParseInt(endStr, 10, 64)
		if perr != nil {
			return RangeSpec{}, false, fmt.Errorf("%w: invalid end %q", ErrMalformedRange, endStr)
		}
	}
	if end >= total {
		end = total - 1
	}

	if end < start {
		return RangeSpec{}, false, fmt.Errorf("%w: end %d before start %d", ErrMalformedRange, end, start)
	}
	if start >= total {
		return RangeSpec{}, false, fmt.Errorf("%w: start %d beyond size %d", ErrMalformedRange, start, total)
	}

	return RangeSpec{Start: start, End: end, Total: total}, true, nil
}
