// Package gzippartial decompresses a bounded prefix of a (possibly
// truncated) multi-member gzip stream whose CRC/ISIZE trailer may be
// absent, per SPEC_FULL.md §4.2.
//
// The algorithm is ported from original_source/gzip_partial.py's
// gzip_decompress_partial: parse a gzip member header, raw-deflate
// decompress its body up to a byte budget, then skip past the (possibly
// missing) 8-byte CRC/ISIZE trailer and any NUL padding before the next
// member. Header field layout follows RFC 1952, grounded on the manual
// gzip-header parser in the dictzip reference implementation.
package gzippartial

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

const (
	gzipID1     = 0x1f
	gzipID2     = 0x8b
	gzipDeflate = 0x08

	flagFHCRC    = 1 << 1
	flagFEXTRA   = 1 << 2
	flagFNAME    = 1 << 3
	flagFCOMMENT = 1 << 4

	gzipHeaderSize = 10
	trailerSize    = 8
)

// Decompress returns up to maxUncompressed decompressed bytes from data. A
// maxUncompressed of 0 or less means unbounded. Decode errors (an invalid
// header, or a deflate stream that ends mid-block because data was
// truncated) are not reported as errors: whatever was successfully
// decompressed so far is returned, matching the "no more members" contract
// of §4.2 step 1 and the decoder-exhaustion handling of §7.
func Decompress(data []byte, maxUncompressed int) []byte {
	var out bytes.Buffer

	remaining := data

	for len(remaining) > 0 {
		if maxUncompressed > 0 && out.Len() >= maxUncompressed {
			break
		}

		headerLen, ok := parseHeader(remaining)
		if !ok {
			break
		}

		body := remaining[headerLen:]

		br := bytes.NewReader(body)
		zr := flate.NewReader(br)

		budgetFilled, err := copyBody(&out, zr, maxUncompressed)

		zr.Close()

		if err != nil {
			// Truncated mid-block: keep whatever was decompressed and stop;
			// there is no reliable trailer offset to resume from.
			break
		}

		if budgetFilled {
			break
		}

		// The deflate stream ended cleanly (member fully consumed). The
		// remaining bytes in br are the (possibly truncated or missing)
		// 8-byte CRC/ISIZE trailer, followed by the next member.
		consumed := len(body) - br.Len()
		rest := body[consumed:]

		if len(rest) < trailerSize {
			break
		}

		rest = rest[trailerSize:]
		for len(rest) > 0 && rest[0] == 0x00 {
			rest = rest[1:]
		}

		remaining = rest
	}

	return out.Bytes()
}

// copyBody copies decompressed bytes from zr into out, capped at the
// remaining budget (maxUncompressed - out.Len()). It reports whether the
// budget was filled before the member's deflate stream reached its natural
// end.
func copyBody(out *bytes.Buffer, zr io.Reader, maxUncompressed int) (budgetFilled bool, err error) {
	if maxUncompressed <= 0 {
		_, err := io.Copy(out, zr)

		return false, err
	}

	remaining := maxUncompressed - out.Len()

	n, err := io.CopyN(out, zr, int64(remaining))
	if err == io.EOF {
		// Member ended before the budget was exhausted.
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return n == int64(remaining), nil
}

// parseHeader parses a single RFC 1952 gzip member header starting at b[0]
// and returns the number of bytes it occupies. It reports false if b does
// not begin with a valid header.
func parseHeader(b []byte) (int, bool) {
	if len(b) < gzipHeaderSize {
		return 0, false
	}

	if b[0] != gzipID1 || b[1] != gzipID2 || b[2] != gzipDeflate {
		return 0, false
	}

	flg := b[3]
	pos := gzipHeaderSize

	if flg&flagFEXTRA != 0 {
		if len(b) < pos+2 {
			return 0, false
		}

		xlen := int(b[pos]) | int(b[pos+1])<<8
		pos += 2 + xlen

		if len(b) < pos {
			return 0, false
		}
	}

	if flg&flagFNAME != 0 {
		i := bytes.IndexByte(b[pos:], 0x00)
		if i < 0 {
			return 0, false
		}

		pos += i + 1
	}

	if flg&flagFCOMMENT != 0 {
		i := bytes.IndexByte(b[pos:], 0x00)
		if i < 0 {
			return 0, false
		}

		pos += i + 1
	}

	if flg&flagFHCRC != 0 {
		pos += 2

		if len(b) < pos {
			return 0, false
		}
	}

	return pos, true
}
