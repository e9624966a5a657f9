package codec

import (
	"fmt"

	"github.com/tommie/openepo/internal/perr"
)

// Sentinel leaf errors named after the codec error signals in the design.
// Each wraps perr.ErrFraming or perr.ErrDecode so callers can test against
// either the specific signal or the broader kind.
var (
	ErrPreambleShort = fmt.Errorf("preamble too short: %w", perr.ErrFraming)
	ErrBadSOF        = fmt.Errorf("missing or malformed start-of-frame symbol: %w", perr.ErrFraming)
	ErrBadEOF        = fmt.Errorf("missing or malformed end-of-frame symbol: %w", perr.ErrFraming)
	ErrBadStuffBit   = fmt.Errorf("stuffed bit before message byte was not 1: %w", perr.ErrFraming)
	ErrFrameTooLong  = fmt.Errorf("frame exceeds maximum length: %w", perr.ErrFraming)
	ErrTruncated     = fmt.Errorf("frame ended before declared content was read: %w", perr.ErrDecode)
	ErrUnknownTag    = fmt.Errorf("unknown discriminant in non-extensible union: %w", perr.ErrDecode)
	ErrBadVersion    = fmt.Errorf("unsupported header version: %w", perr.ErrFraming)
)
