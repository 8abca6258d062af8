package mc

import (
	"encoding/hex"
	"fmt"
)

const upperHex = "0123456789ABCDEF"

// Binarize decodes ASCII mode text, two hex characters per byte. Upper and lower case
// digits are accepted.
func Binarize(text []byte) ([]byte, error) {
	if len(text)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrTranscoding, len(text))
	}
	out := make([]byte, len(text)/2)
	if _, err := hex.Decode(out, text); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTranscoding, err)
	}

	return out, nil
}

// Asciize encodes data as upper case hex text.
func Asciize(data []byte) []byte {
	return AppendAsciize(make([]byte, 0, len(data)*2), data)
}

// AppendAsciize appends the upper case hex text of data to dst.
func AppendAsciize(dst, data []byte) []byte {
	for _, b := range data {
		dst = append(dst, upperHex[b>>4], upperHex[b&0x0F])
	}

	return dst
}
