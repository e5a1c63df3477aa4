package ccsds

import (
	"encoding/binary"
	"time"
)

const (
	// PrimaryHeaderLength is the size of the CCSDS primary header in bytes.
	PrimaryHeaderLength = 6

	// MaxDataLength is the largest data section a packet can carry: the
	// 16-bit length field holds data_bytes - 1, so 0xFFFF means 65536.
	MaxDataLength = 65536

	// MaxPacketLength is the largest possible packet including the
	// primary header.
	MaxPacketLength = PrimaryHeaderLength + MaxDataLength
)

// PrimaryHeader holds the unpacked fields of the 6-byte CCSDS primary
// header (CCSDS 133.0-B-2).
type PrimaryHeader struct {
	Version         uint8
	PacketType      uint8
	SecondaryHeader bool
	APID            uint16
	SeqFlags        uint8
	SeqCount        uint16
	LengthField     uint16
}

// DataLength is the number of data bytes following the primary header.
// The wire encoding is length_field = data_bytes - 1.
func (h PrimaryHeader) DataLength() int {
	return int(h.LengthField) + 1
}

// PacketLength is the total packet size including the primary header.
func (h PrimaryHeader) PacketLength() int {
	return PrimaryHeaderLength + h.DataLength()
}

// DecodePrimaryHeader unpacks the first 6 bytes of b. When littleEndian
// is set, each 16-bit word of the header has its bytes swapped before
// field extraction; some systems emit headers this way in violation of
// the standard.
func DecodePrimaryHeader(b []byte, littleEndian bool) PrimaryHeader {
	var w0, w1, w2 uint16
	if littleEndian {
		w0 = binary.LittleEndian.Uint16(b[0:2])
		w1 = binary.LittleEndian.Uint16(b[2:4])
		w2 = binary.LittleEndian.Uint16(b[4:6])
	} else {
		w0 = binary.BigEndian.Uint16(b[0:2])
		w1 = binary.BigEndian.Uint16(b[2:4])
		w2 = binary.BigEndian.Uint16(b[4:6])
	}

	return PrimaryHeader{
		Version:         uint8(w0 >> 13),
		PacketType:      uint8((w0 >> 12) & 0x1),
		SecondaryHeader: (w0>>11)&0x1 == 1,
		APID:            w0 & 0x7FF,
		SeqFlags:        uint8(w1 >> 14),
		SeqCount:        w1 & 0x3FFF,
		LengthField:     w2,
	}
}

// Encode packs the header fields back into wire form, swapping each
// 16-bit word when littleEndian is set.
func (h PrimaryHeader) Encode(littleEndian bool) [PrimaryHeaderLength]byte {
	w0 := uint16(h.Version&0x7)<<13 | uint16(h.PacketType&0x1)<<12 | uint16(h.APID&0x7FF)
	if h.SecondaryHeader {
		w0 |= 1 << 11
	}
	w1 := uint16(h.SeqFlags&0x3)<<14 | h.SeqCount&0x3FFF

	var b [PrimaryHeaderLength]byte
	if littleEndian {
		binary.LittleEndian.PutUint16(b[0:2], w0)
		binary.LittleEndian.PutUint16(b[2:4], w1)
		binary.LittleEndian.PutUint16(b[4:6], h.LengthField)
	} else {
		binary.BigEndian.PutUint16(b[0:2], w0)
		binary.BigEndian.PutUint16(b[2:4], w1)
		binary.BigEndian.PutUint16(b[4:6], h.LengthField)
	}
	return b
}

// Packet is one parsed CCSDS packet. Bytes preserves wire order and may
// include retained wrapper prefix/postfix bytes; HeaderOffset locates the
// primary header inside Bytes (nonzero when the prefix is retained).
type Packet struct {
	Header       PrimaryHeader
	Bytes        []byte
	HeaderOffset int

	// RecvTime is stamped by the reader that pulled the packet off the
	// input stream.
	RecvTime time.Time
}
