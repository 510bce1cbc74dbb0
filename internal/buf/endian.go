package buf

import "encoding/binary"

// Words decodes b as consecutive little-endian words of the given width
// (1, 2, 4 or 8 bytes). A trailing partial word is ignored.
func Words(b []byte, width int) []uint64 {
	switch width {
	case 1, 2, 4, 8:
	default:
		return nil
	}
	out := make([]uint64, 0, len(b)/width)
	for off := 0; off+width <= len(b); off += width {
		w := b[off : off+width]
		switch width {
		case 1:
			out = append(out, uint64(w[0]))
		case 2:
			out = append(out, uint64(binary.LittleEndian.Uint16(w)))
		case 4:
			out = append(out, uint64(binary.LittleEndian.Uint32(w)))
		case 8:
			out = append(out, binary.LittleEndian.Uint64(w))
		}
	}
	return out
}
