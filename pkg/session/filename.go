package session

import (
	"fmt"
	"strings"
)

// Session keys become file names via a reversible escape: '_' doubles,
// ':' becomes "_c", and anything else outside [A-Za-z0-9.-] becomes
// _xHH per byte. Every '_' in the output starts an escape of known
// length, so the encoding is injective and distinct keys never collide
// on disk.

// encodeKey converts a session key to a file name (without extension).
func encodeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r == '_':
			b.WriteString("__")
		case r == ':':
			b.WriteString("_c")
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '.', r == '-':
			b.WriteRune(r)
		default:
			for _, byt := range []byte(string(r)) {
				b.WriteString(fmt.Sprintf("_x%02x", byt))
			}
		}
	}
	return b.String()
}

// decodeKey reverses encodeKey.
func decodeKey(name string) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(name) {
		c := name[i]
		if c != '_' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(name) {
			return "", fmt.Errorf("truncated escape in file name %q", name)
		}
		switch name[i+1] {
		case '_':
			b.WriteByte('_')
			i += 2
		case 'c':
			b.WriteByte(':')
			i += 2
		case 'x':
			if i+3 >= len(name) {
				return "", fmt.Errorf("truncated escape in file name %q", name)
			}
			var byt byte
			if _, err := fmt.Sscanf(name[i+2:i+4], "%02x", &byt); err != nil {
				return "", fmt.Errorf("malformed escape in file name %q", name)
			}
			b.WriteByte(byt)
			i += 4
		default:
			return "", fmt.Errorf("unknown escape in file name %q", name)
		}
	}
	return b.String(), nil
}
