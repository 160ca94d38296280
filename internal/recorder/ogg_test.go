package recorder

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// parsePage reads one Ogg page starting at off, verifies its CRC, and
// returns the header type, granule, packet payload, and the offset of the
// next page.
func parsePage(t *testing.T, data []byte, off int) (headerType byte, granule uint64, payload []byte, next int) {
	t.Helper()

	if !bytes.Equal(data[off:off+4], []byte("OggS")) {
		t.Fatalf("page at %d: bad capture pattern % x", off, data[off:off+4])
	}
	if data[off+4] != 0 {
		t.Fatalf("page at %d: version = %d, want 0", off, data[off+4])
	}
	headerType = data[off+5]
	granule = binary.LittleEndian.Uint64(data[off+6:])
	crc := binary.LittleEndian.Uint32(data[off+22:])
	segs := int(data[off+26])

	bodyLen := 0
	for i := range segs {
		bodyLen += int(data[off+27+i])
	}
	next = off + 27 + segs + bodyLen
	payload = data[off+27+segs : next]

	// Recompute the checksum with the CRC field zeroed.
	page := make([]byte, next-off)
	copy(page, data[off:next])
	page[22], page[23], page[24], page[25] = 0, 0, 0, 0
	if got := oggCRC(page); got != crc {
		t.Fatalf("page at %d: crc = %08x, want %08x", off, crc, got)
	}
	return headerType, granule, payload, next
}

func TestOpusTakeIsWellFormedOgg(t *testing.T) {
	t.Parallel()

	sink, err := NewSink("ogg", testRate, 0)
	if err != nil {
		t.Fatalf("NewSink() error = %v", err)
	}
	if err := sink.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	phase := 0.0
	step := 2 * math.Pi * 440 / testRate
	block := make([]float64, 960)
	for range 25 { // 500 ms
		for i := range block {
			block[i] = 0.5 * math.Sin(phase)
			phase += step
		}
		if err := sink.Write(block); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	data, err := sink.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty ogg stream")
	}

	// Page 0: OpusHead alone with BOS set.
	ht, granule, payload, off := parsePage(t, data, 0)
	if ht&headerTypeBOS == 0 {
		t.Error("first page missing BOS flag")
	}
	if granule != 0 {
		t.Errorf("header page granule = %d, want 0", granule)
	}
	if !bytes.HasPrefix(payload, []byte("OpusHead")) {
		t.Fatalf("first packet = % x, want OpusHead", payload[:8])
	}
	if payload[9] != 1 {
		t.Errorf("channel count = %d, want 1", payload[9])
	}
	if rate := binary.LittleEndian.Uint32(payload[12:]); rate != opusSampleRate {
		t.Errorf("input sample rate = %d, want %d", rate, opusSampleRate)
	}

	// Page 1: OpusTags.
	_, _, payload, off = parsePage(t, data, off)
	if !bytes.HasPrefix(payload, []byte("OpusTags")) {
		t.Fatalf("second packet = % x, want OpusTags", payload[:8])
	}

	// Audio pages: walk to the end, checking every CRC; the final page must
	// carry EOS and a granule covering all encoded samples.
	var lastHT byte
	var lastGranule uint64
	pages := 0
	for off < len(data) {
		lastHT, lastGranule, _, off = parsePage(t, data, off)
		pages++
	}
	if pages == 0 {
		t.Fatal("no audio pages")
	}
	if lastHT&headerTypeEOS == 0 {
		t.Error("final page missing EOS flag")
	}
	wantGranule := uint64(opusPreskip + 25*960)
	if lastGranule != wantGranule {
		t.Errorf("final granule = %d, want %d", lastGranule, wantGranule)
	}
}

func TestOpusSinkResetsBetweenTakes(t *testing.T) {
	t.Parallel()

	sink, err := NewSink("ogg", testRate, 0)
	if err != nil {
		t.Fatalf("NewSink() error = %v", err)
	}

	block := make([]float64, 960)
	for take := range 2 {
		if err := sink.Begin(); err != nil {
			t.Fatalf("take %d Begin() error = %v", take, err)
		}
		if err := sink.Write(block); err != nil {
			t.Fatalf("take %d Write() error = %v", take, err)
		}
		data, err := sink.Finalize()
		if err != nil {
			t.Fatalf("take %d Finalize() error = %v", take, err)
		}

		// Every take must restart with a BOS header page.
		ht, _, payload, _ := parsePage(t, data, 0)
		if ht&headerTypeBOS == 0 {
			t.Errorf("take %d first page missing BOS", take)
		}
		if !bytes.HasPrefix(payload, []byte("OpusHead")) {
			t.Errorf("take %d missing OpusHead", take)
		}
	}
}

func TestSinkWriteBeforeBeginFails(t *testing.T) {
	t.Parallel()

	sink, err := NewSink("ogg", testRate, 0)
	if err != nil {
		t.Fatalf("NewSink() error = %v", err)
	}
	if err := sink.Write(make([]float64, 960)); err == nil {
		t.Error("Write() before Begin() error = nil, want error")
	}
}

func TestNewSinkRejectsUnknownContainer(t *testing.T) {
	t.Parallel()

	if _, err := NewSink("mp3", testRate, 0); err == nil {
		t.Error("NewSink(mp3) error = nil, want error")
	}
}
