package buf

import (
	"bytes"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// DecodeUTF16LE decodes little-endian UTF-16 text. Decoding stops at the
// first NUL code unit when trimNUL is set.
func DecodeUTF16LE(b []byte, trimNUL bool) (string, error) {
	if trimNUL {
		for i := 0; i+1 < len(b); i += 2 {
			if b[i] == 0 && b[i+1] == 0 {
				b = b[:i]
				break
			}
		}
	}
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DecodeLatin1 decodes single-byte Windows-1252 text, stopping at the first
// NUL when trimNUL is set.
func DecodeLatin1(b []byte, trimNUL bool) (string, error) {
	if trimNUL {
		if i := bytes.IndexByte(b, 0); i >= 0 {
			b = b[:i]
		}
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
