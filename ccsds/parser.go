package ccsds

import (
	"github.com/pkg/errors"

	"github.com/nsmryan/ccsds-router/printer"
)

// Initial buffer allocation; capacity never shrinks below this.
const minBufferCapacity = 4096

// ErrOverflow reports that the parse buffer reached its hard cap without
// yielding a packet. Unrecoverable for the current session.
var ErrOverflow = errors.New("parse buffer overflow without a complete packet")

// ParserConfig controls how the parser frames and filters the byte
// stream.
type ParserConfig struct {
	// AllowedAPIDs is an allow-list of APIDs to pass through. Nil means
	// allow all.
	AllowedAPIDs map[uint16]bool

	// FixedLength, when nonzero, puts the parser in fixed-size mode:
	// every packet occupies exactly FixedLength bytes (header included)
	// and the header's length field is ignored. Zero means variable
	// mode, sized from the length field.
	FixedLength int

	// Wrapper frame around each packet in the stream. The prefix and
	// postfix are opaque filler, positional rather than sync-matched.
	PrefixBytes int
	KeepPrefix  bool

	PostfixBytes int
	KeepPostfix  bool

	// LittleEndianHeader swaps each 16-bit header word before field
	// extraction. The emitted bytes keep the original wire order.
	LittleEndianHeader bool
}

// maxBuffered is the hard cap on buffered bytes: one maximum-size packet
// plus the wrapper frame.
func (c ParserConfig) maxBuffered() int {
	return MaxPacketLength + c.PrefixBytes + c.PostfixBytes
}

// minPull is the smallest byte count from which a pull can make a
// sizing decision.
func (c ParserConfig) minPull() int {
	return c.PrefixBytes + PrimaryHeaderLength + c.PostfixBytes
}

// Parser recovers CCSDS packets from an incrementally appended byte
// stream. It never skips bytes: the caller is responsible for stream
// framing, and a misaligned stream produces garbage packets rather than
// a resync.
type Parser struct {
	cfg ParserConfig

	// OnDrop, if set, is invoked once for each packet discarded by the
	// APID allow-list.
	OnDrop func(PrimaryHeader)

	buf    []byte
	cursor int

	stats Stats
}

// Stats is a snapshot of parser counters.
type Stats struct {
	PacketsParsed  uint64
	PacketsDropped uint64
	BytesBuffered  int
}

func NewParser(cfg ParserConfig) *Parser {
	return &Parser{
		cfg: cfg,
		buf: make([]byte, 0, minBufferCapacity),
	}
}

// SpareCapacity is how many bytes may be appended before the buffer
// would exceed its hard cap.
func (p *Parser) SpareCapacity() int {
	return p.cfg.maxBuffered() - (len(p.buf) - p.cursor)
}

// Append extends the buffer with b. Consumed bytes are compacted away
// first, so the cap applies only to bytes that may still form a packet.
// Returns ErrOverflow if the unconsumed bytes would exceed the hard cap.
func (p *Parser) Append(b []byte) error {
	p.compact()

	if len(p.buf)+len(b) > p.cfg.maxBuffered() {
		return errors.Wrapf(ErrOverflow, "%d bytes buffered, %d appended, cap %d",
			len(p.buf), len(b), p.cfg.maxBuffered())
	}

	p.buf = append(p.buf, b...)
	p.stats.BytesBuffered = len(p.buf) - p.cursor
	return nil
}

// Pull yields the next complete packet, or false if the buffer does not
// yet hold one. Packets filtered out by the APID allow-list are consumed
// and reported through OnDrop, and the scan continues.
func (p *Parser) Pull() (Packet, bool) {
	for {
		avail := len(p.buf) - p.cursor
		if avail < p.cfg.minPull() {
			return Packet{}, false
		}

		headerStart := p.cursor + p.cfg.PrefixBytes
		header := DecodePrimaryHeader(p.buf[headerStart:headerStart+PrimaryHeaderLength], p.cfg.LittleEndianHeader)

		dataLen := header.DataLength()
		if p.cfg.FixedLength > 0 {
			dataLen = p.cfg.FixedLength - PrimaryHeaderLength
		}

		total := p.cfg.PrefixBytes + PrimaryHeaderLength + dataLen + p.cfg.PostfixBytes
		if avail < total {
			return Packet{}, false
		}

		if p.cfg.AllowedAPIDs != nil && !p.cfg.AllowedAPIDs[header.APID] {
			p.cursor += total
			p.stats.PacketsDropped++
			p.stats.BytesBuffered = len(p.buf) - p.cursor
			printer.Debugf("dropped packet with APID %d, not in allow-list\n", header.APID)
			if p.OnDrop != nil {
				p.OnDrop(header)
			}
			continue
		}

		// Keep flags shape the output only; all bytes are consumed from
		// the input either way.
		start := p.cursor
		headerOffset := 0
		if !p.cfg.KeepPrefix {
			start += p.cfg.PrefixBytes
		} else {
			headerOffset = p.cfg.PrefixBytes
		}
		end := p.cursor + total
		if !p.cfg.KeepPostfix {
			end -= p.cfg.PostfixBytes
		}

		out := make([]byte, end-start)
		copy(out, p.buf[start:end])

		p.cursor += total
		p.stats.PacketsParsed++
		p.stats.BytesBuffered = len(p.buf) - p.cursor

		return Packet{Header: header, Bytes: out, HeaderOffset: headerOffset}, true
	}
}

// Stats returns a snapshot of the parser counters.
func (p *Parser) Stats() Stats {
	return p.stats
}

// compact moves unconsumed bytes to the front of the buffer. Capacity is
// retained so steady-state appends do not reallocate.
func (p *Parser) compact() {
	if p.cursor == 0 {
		return
	}
	n := copy(p.buf, p.buf[p.cursor:])
	p.buf = p.buf[:n]
	p.cursor = 0
}
