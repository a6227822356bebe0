// ABOUTME: Minimal Ogg page writer for the encapsulating encoders
// ABOUTME: Handles lacing, granule positions and the Ogg page CRC
package encoder

import "encoding/binary"

// Ogg header type flags.
const (
	oggContinued = 0x01
	oggBOS       = 0x02
	oggEOS       = 0x04
)

// crcTable is the Ogg page CRC (poly 0x04c11db7, MSB first, no
// reflection, zero init and final xor).
var crcTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

func oggCRC(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// oggWriter emits the pages of one logical Ogg bitstream. A new
// writer is started per track so streams chain at track boundaries.
type oggWriter struct {
	serial uint32
	seq    uint32
}

func newOggWriter(serial uint32) *oggWriter {
	return &oggWriter{serial: serial}
}

// page assembles one page carrying the given packets. Every packet
// must be shorter than 255*255 bytes so it never spans pages.
func (w *oggWriter) page(headerType byte, granule uint64, packets [][]byte) []byte {
	var lacing []byte
	size := 0
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
		size += len(p)
	}

	page := make([]byte, 0, 27+len(lacing)+size)
	page = append(page, 'O', 'g', 'g', 'S', 0, headerType)
	page = binary.LittleEndian.AppendUint64(page, granule)
	page = binary.LittleEndian.AppendUint32(page, w.serial)
	page = binary.LittleEndian.AppendUint32(page, w.seq)
	w.seq++
	page = append(page, 0, 0, 0, 0) // CRC, patched below
	page = append(page, byte(len(lacing)))
	page = append(page, lacing...)
	for _, p := range packets {
		page = append(page, p...)
	}

	binary.LittleEndian.PutUint32(page[22:], oggCRC(page))
	return page
}
