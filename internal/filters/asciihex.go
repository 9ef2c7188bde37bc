package filters

import "fmt"

// decodeASCIIHex decodes an ASCIIHexDecode stream. Whitespace is ignored;
// a '>' marks the end of data; an odd number of hex digits is completed
// with an implicit trailing 0, per PDF 1.7 §7.4.2.
func decodeASCIIHex(encoded []byte) ([]byte, error) {
	var out []byte
	var high byte
	haveHigh := false
	for _, c := range encoded {
		if isWhitespace(c) {
			continue
		}
		if c == '>' {
			if haveHigh {
				out = append(out, high<<4)
			}
			return out, nil
		}
		v, ok := fromHexDigit(c)
		if !ok {
			return nil, fmt.Errorf("filter ASCIIHexDecode: invalid hex digit %q", c)
		}
		if !haveHigh {
			high = v
			haveHigh = true
		} else {
			out = append(out, high<<4|v)
			haveHigh = false
		}
	}
	// Missing EOD marker: lenient readers accept the data as complete.
	if haveHigh {
		out = append(out, high<<4)
	}
	return out, nil
}

func encodeASCIIHex(raw []byte) []byte {
	const digits = "0123456789ABCDEF"
	out := make([]byte, 0, len(raw)*2+1)
	for _, b := range raw {
		out = append(out, digits[b>>4], digits[b&0xf])
	}
	out = append(out, '>')
	return out
}

func isWhitespace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\x0c', '\r', ' ':
		return true
	}
	return false
}

func fromHexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
