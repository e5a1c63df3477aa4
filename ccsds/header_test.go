package ccsds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePrimaryHeader(t *testing.T) {
	// APID 0x003, secondary header set, seq flags 3, seq count 0,
	// length field 4.
	raw := []byte{0x18, 0x03, 0xC0, 0x00, 0x00, 0x04}

	header := DecodePrimaryHeader(raw, false)
	assert.Equal(t, uint8(0), header.Version)
	assert.Equal(t, uint8(1), header.PacketType)
	assert.True(t, header.SecondaryHeader)
	assert.Equal(t, uint16(3), header.APID)
	assert.Equal(t, uint8(3), header.SeqFlags)
	assert.Equal(t, uint16(0), header.SeqCount)
	assert.Equal(t, uint16(4), header.LengthField)
	assert.Equal(t, 5, header.DataLength())
	assert.Equal(t, 11, header.PacketLength())
}

func TestDecodeLengthFieldExtremes(t *testing.T) {
	header := DecodePrimaryHeader([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, false)
	assert.Equal(t, 1, header.DataLength(), "length field 0 means 1 data byte")

	header = DecodePrimaryHeader([]byte{0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF}, false)
	assert.Equal(t, 65536, header.DataLength(), "length field 0xFFFF means 65536 data bytes")
}

// Parsing a word-swapped header in little-endian mode yields the same
// logical fields as parsing the unswapped bytes in big-endian mode.
func TestEndianSwapInvolution(t *testing.T) {
	big := []byte{0x18, 0x03, 0xC0, 0x07, 0x00, 0x04}
	little := []byte{0x03, 0x18, 0x07, 0xC0, 0x04, 0x00}

	fromBig := DecodePrimaryHeader(big, false)
	fromLittle := DecodePrimaryHeader(little, true)
	assert.Equal(t, fromBig, fromLittle)
}

func TestEncodeRoundTrip(t *testing.T) {
	headers := []PrimaryHeader{
		{APID: 3, SeqFlags: 3, LengthField: 4},
		{Version: 1, PacketType: 1, SecondaryHeader: true, APID: 0x7FF, SeqFlags: 1, SeqCount: 0x3FFF, LengthField: 0xFFFF},
		{APID: 100, SeqCount: 1234, LengthField: 0},
	}

	for _, header := range headers {
		for _, littleEndian := range []bool{false, true} {
			encoded := header.Encode(littleEndian)
			decoded := DecodePrimaryHeader(encoded[:], littleEndian)
			require.Equal(t, header, decoded)
		}
	}
}
