package recorder

import (
	"bytes"
	"encoding/binary"
)

// Minimal Ogg bitstream writer, enough to mux a single Opus stream per
// RFC 3533 and RFC 7845. Packets are laced into pages of at most
// maxPacketsPerPage packets; the final page carries the EOS flag.

const (
	oggVersion = 0

	headerTypeContinued = 0x01
	headerTypeBOS       = 0x02
	headerTypeEOS       = 0x04

	maxPacketsPerPage = 50
)

// crcTable is the Ogg CRC-32 lookup table (polynomial 0x04c11db7, no
// reflection, zero initial value, zero final XOR).
var crcTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ 0x04c11db7
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
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// oggWriter accumulates packets and emits framed pages into an in-memory
// buffer.
type oggWriter struct {
	out    bytes.Buffer
	serial uint32
	pageNo uint32

	pending  [][]byte
	granule  uint64
	bosEmpty bool // next page is the first of the stream
}

func newOggWriter(serial uint32) *oggWriter {
	return &oggWriter{serial: serial, bosEmpty: true}
}

// writePacket queues one packet ending at the given absolute granule
// position and flushes a page when enough packets are pending.
func (w *oggWriter) writePacket(packet []byte, granule uint64) {
	w.pending = append(w.pending, packet)
	w.granule = granule
	if len(w.pending) >= maxPacketsPerPage {
		w.flushPage(false)
	}
}

// flushPage emits all pending packets as one page. Packets longer than
// 255*255 bytes are not supported; Opus frames at harmonizer bitrates stay
// far below that.
func (w *oggWriter) flushPage(eos bool) {
	if len(w.pending) == 0 && !eos {
		return
	}

	var lacing []byte
	var payload []byte
	for _, p := range w.pending {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
		payload = append(payload, p...)
	}
	w.pending = w.pending[:0]

	var headerType byte
	if w.bosEmpty {
		headerType |= headerTypeBOS
		w.bosEmpty = false
	}
	if eos {
		headerType |= headerTypeEOS
	}

	header := make([]byte, 27, 27+len(lacing))
	copy(header, "OggS")
	header[4] = oggVersion
	header[5] = headerType
	binary.LittleEndian.PutUint64(header[6:], w.granule)
	binary.LittleEndian.PutUint32(header[14:], w.serial)
	binary.LittleEndian.PutUint32(header[18:], w.pageNo)
	// CRC at header[22:26] stays zero until computed over the whole page.
	header[26] = byte(len(lacing))
	header = append(header, lacing...)

	page := append(header, payload...)
	binary.LittleEndian.PutUint32(page[22:], oggCRC(page))

	w.out.Write(page)
	w.pageNo++
}

// close flushes any pending packets on a final EOS page and returns the
// complete stream.
func (w *oggWriter) close() []byte {
	w.flushPage(true)
	return w.out.Bytes()
}
