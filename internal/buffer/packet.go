// ABOUTME: Packet framing on top of the byte ring buffer
// ABOUTME: Fixed little-endian header, then payload; direct reads skip metadata
package buffer

import (
	"encoding/binary"
	"sync"
)

// Packet flags.
const (
	// StartOfTrack marks the first packet of a track.
	StartOfTrack uint32 = 1 << iota
	// OutOfBandMetadata marks a packet whose payload is not stream
	// data but an out-of-band metadata blob.
	OutOfBandMetadata
	// OriginalCommand marks an out-of-band packet carrying the
	// command that produced the track.
	OriginalCommand
	// MetadataPacket marks in-band metadata emitted by an encoder.
	MetadataPacket
)

// HeaderSize is the wire size of a packet header.
const HeaderSize = 20

// Header precedes every packet payload in a packet ring.
type Header struct {
	DataSize   uint64
	FrameCount uint64
	Flags      uint32
}

// AppendTo serializes the header into dst.
func (h Header) AppendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, h.DataSize)
	dst = binary.LittleEndian.AppendUint64(dst, h.FrameCount)
	return binary.LittleEndian.AppendUint32(dst, h.Flags)
}

// ParseHeader deserializes a header from src, which must hold at least
// HeaderSize bytes.
func ParseHeader(src []byte) Header {
	return Header{
		DataSize:   binary.LittleEndian.Uint64(src),
		FrameCount: binary.LittleEndian.Uint64(src[8:]),
		Flags:      binary.LittleEndian.Uint32(src[16:]),
	}
}

// OutOfBand reports whether the packet carries out-of-band data that
// stream consumers should not treat as audio.
func (h Header) OutOfBand() bool {
	return h.Flags&OutOfBandMetadata != 0
}

// PacketRing carries length-prefixed packets over a byte ring. A
// single reader and a single writer may use it concurrently; writes
// from multiple goroutines are serialized so headers and payloads
// never interleave.
type PacketRing struct {
	ring *Ring[byte]
	wmu  sync.Mutex

	// cursor for direct reads, single reader only
	cur PacketRead
}

// NewPacketRing creates a packet ring whose payload buffer holds
// size bytes.
func NewPacketRing(size int) *PacketRing {
	return &PacketRing{ring: NewRing[byte](size)}
}

// Cap returns the byte capacity of the underlying ring.
func (p *PacketRing) Cap() int { return p.ring.Cap() }

// WritePacket writes one packet, blocking until the header and payload
// fit. Returns false if the ring was closed before the packet was
// fully written.
func (p *PacketRing) WritePacket(flags uint32, frameCount uint64, data []byte) bool {
	hdr := Header{
		DataSize:   uint64(len(data)),
		FrameCount: frameCount,
		Flags:      flags,
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	buf := hdr.AppendTo(make([]byte, 0, HeaderSize))
	if p.ring.WriteFull(buf) < HeaderSize {
		return false
	}
	return p.ring.WriteFull(data) == len(data)
}

// ReadPacket blocks until the next packet header arrives and returns a
// cursor over its payload. Returns false once the ring is closed and
// drained. The caller must consume or skip the whole payload before
// calling ReadPacket again.
func (p *PacketRing) ReadPacket() (PacketRead, bool) {
	var hdr [HeaderSize]byte
	if p.ring.ReadFull(hdr[:]) < HeaderSize {
		return PacketRead{}, false
	}
	h := ParseHeader(hdr[:])
	return PacketRead{ring: p.ring, Header: h, left: int(h.DataSize)}, true
}

// Close closes the underlying ring, waking any blocked reader or
// writer. Already-buffered packets remain readable.
func (p *PacketRing) Close() { p.ring.Close() }

// Closed reports whether the ring is closed and fully drained.
func (p *PacketRing) Closed() bool { return p.ring.Closed() }

// PacketRead is a cursor over a single packet's payload.
type PacketRead struct {
	ring *Ring[byte]
	left int

	// Header is the packet's header as read off the wire.
	Header Header
}

// HasData reports whether payload bytes remain unread.
func (r *PacketRead) HasData() bool { return r.left > 0 }

// Left returns the number of unread payload bytes.
func (r *PacketRead) Left() int { return r.left }

func (r *PacketRead) clamp(dst []byte) []byte {
	if len(dst) > r.left {
		return dst[:r.left]
	}
	return dst
}

// ReadPartial reads whatever payload is buffered, without blocking.
func (r *PacketRead) ReadPartial(dst []byte) int {
	n := r.ring.ReadPartial(r.clamp(dst))
	r.left -= n
	return n
}

// ReadSome blocks until at least one payload byte is available, then
// reads what is buffered. Returns 0 only at end of payload or after
// close.
func (r *PacketRead) ReadSome(dst []byte) int {
	dst = r.clamp(dst)
	if len(dst) == 0 {
		return 0
	}
	n := r.ring.ReadSome(dst)
	r.left -= n
	return n
}

// ReadFull reads exactly len(dst) payload bytes, blocking as needed,
// but never past the end of the packet.
func (r *PacketRead) ReadFull(dst []byte) int {
	n := r.ring.ReadFull(r.clamp(dst))
	r.left -= n
	return n
}

// SkipFull discards the rest of the payload.
func (r *PacketRead) SkipFull() int {
	n := r.ring.SkipFull(r.left)
	r.left -= n
	return n
}

// ReadDirectPartial reads stream bytes without packet boundaries,
// without blocking. Out-of-band packets are skipped transparently.
func (p *PacketRing) ReadDirectPartial(dst []byte) int {
	return p.readDirect(dst, (*PacketRead).ReadPartial, false)
}

// ReadDirectSome reads stream bytes without packet boundaries,
// blocking until at least one byte is available or the ring is closed
// and drained. Out-of-band packets are skipped transparently.
func (p *PacketRing) ReadDirectSome(dst []byte) int {
	return p.readDirect(dst, (*PacketRead).ReadSome, true)
}

// ReadDirectFull reads exactly len(dst) stream bytes, blocking as
// needed. Returns a short count only when the ring closes. Out-of-band
// packets are skipped transparently.
func (p *PacketRing) ReadDirectFull(dst []byte) int {
	total := 0
	for total < len(dst) {
		n := p.readDirect(dst[total:], (*PacketRead).ReadFull, true)
		if n == 0 {
			break
		}
		total += n
	}
	return total
}

func (p *PacketRing) readDirect(dst []byte, read func(*PacketRead, []byte) int, block bool) int {
	for {
		for !p.cur.HasData() {
			if !block && p.ring.ToRead() < HeaderSize {
				return 0
			}
			cur, ok := p.ReadPacket()
			if !ok {
				return 0
			}
			p.cur = cur
			if p.cur.Header.OutOfBand() {
				p.cur.SkipFull()
			}
		}
		if n := read(&p.cur, dst); n > 0 || !block {
			return n
		}
		if p.ring.Closed() {
			return 0
		}
	}
}
