package signature

import "strings"

// encodeSymbols re-encodes raw bytes in 3-byte to 4-symbol groups against
// the given 65-character alphabet. Both algorithm versions share this
// routine; only the alphabet differs. Trailing bytes that do not fill a
// full group are dropped, which matches the wire behaviour (inputs are
// always sized to a multiple of three).
func encodeSymbols(data []byte, alphabet string) string {
	var b strings.Builder
	b.Grow(len(data) / 3 * 4)
	for i := 0; i+3 <= len(data); i += 3 {
		v := uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16
		b.WriteByte(alphabet[v&63])
		b.WriteByte(alphabet[(v>>6)&63])
		b.WriteByte(alphabet[(v>>12)&63])
		b.WriteByte(alphabet[(v>>18)&63])
	}
	return b.String()
}
