package ccsds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPacket builds a well-formed packet with the given APID and data.
func testPacket(apid uint16, data []byte) []byte {
	header := PrimaryHeader{
		APID:        apid,
		SeqFlags:    3,
		LengthField: uint16(len(data) - 1),
	}
	encoded := header.Encode(false)
	return append(encoded[:], data...)
}

func drainAll(t *testing.T, parser *Parser) [][]byte {
	t.Helper()
	var packets [][]byte
	for {
		pkt, ok := parser.Pull()
		if !ok {
			return packets
		}
		packets = append(packets, pkt.Bytes)
	}
}

// Appending concatenated packets in any chunking yields exactly the
// packets in order.
func TestPullRoundTripAnyChunking(t *testing.T) {
	packets := [][]byte{
		testPacket(1, []byte{0xDE, 0xAD}),
		testPacket(2, []byte{0xBE, 0xEF, 0xCA, 0xFE}),
		testPacket(3, []byte{0x01}),
	}

	var wire []byte
	for _, pkt := range packets {
		wire = append(wire, pkt...)
	}

	for _, chunkSize := range []int{1, 2, 3, 5, 7, len(wire)} {
		parser := NewParser(ParserConfig{})

		var got [][]byte
		for start := 0; start < len(wire); start += chunkSize {
			end := start + chunkSize
			if end > len(wire) {
				end = len(wire)
			}
			require.NoError(t, parser.Append(wire[start:end]))
			got = append(got, drainAll(t, parser)...)
		}

		require.Equal(t, packets, got, "chunk size %d", chunkSize)
	}
}

func TestPullEmptyIsIdempotent(t *testing.T) {
	parser := NewParser(ParserConfig{})
	require.NoError(t, parser.Append(testPacket(1, []byte{0xAA})[:3]))

	_, ok := parser.Pull()
	require.False(t, ok)

	before := parser.Stats()
	_, ok = parser.Pull()
	require.False(t, ok)
	assert.Equal(t, before, parser.Stats())
}

func TestAPIDFilter(t *testing.T) {
	parser := NewParser(ParserConfig{
		AllowedAPIDs: map[uint16]bool{7: true},
	})

	var dropped []PrimaryHeader
	parser.OnDrop = func(header PrimaryHeader) {
		dropped = append(dropped, header)
	}

	keep := testPacket(7, []byte{0x01, 0x02})
	discardA := testPacket(8, []byte{0x03})
	discardB := testPacket(9, []byte{0x04, 0x05, 0x06})

	require.NoError(t, parser.Append(discardA))
	require.NoError(t, parser.Append(keep))
	require.NoError(t, parser.Append(discardB))

	got := drainAll(t, parser)
	require.Equal(t, [][]byte{keep}, got)

	require.Len(t, dropped, 2)
	assert.Equal(t, uint16(8), dropped[0].APID)
	assert.Equal(t, uint16(9), dropped[1].APID)

	stats := parser.Stats()
	assert.Equal(t, uint64(1), stats.PacketsParsed)
	assert.Equal(t, uint64(2), stats.PacketsDropped)
}

func TestLittleEndianHeader(t *testing.T) {
	// The same packet with each 16-bit header word byte-swapped on the
	// wire. The emitted bytes preserve wire order.
	swapped := []byte{0x03, 0x18, 0x00, 0xC0, 0x04, 0x00, 0xDE, 0xAD, 0xBE, 0xEF, 0xCA}

	parser := NewParser(ParserConfig{LittleEndianHeader: true})
	require.NoError(t, parser.Append(swapped))

	pkt, ok := parser.Pull()
	require.True(t, ok)
	assert.Equal(t, uint16(3), pkt.Header.APID)
	assert.Equal(t, uint16(0), pkt.Header.SeqCount)
	assert.Equal(t, 5, pkt.Header.DataLength())
	assert.Equal(t, swapped, pkt.Bytes)
}

func TestFrameWrapper(t *testing.T) {
	prefix := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	postfix := []byte{0xEE, 0xFF}
	packet := testPacket(3, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA})

	var wire []byte
	for i := 0; i < 3; i++ {
		wire = append(wire, prefix...)
		wire = append(wire, packet...)
		wire = append(wire, postfix...)
	}

	t.Run("drop prefix keep postfix", func(t *testing.T) {
		parser := NewParser(ParserConfig{
			PrefixBytes:  4,
			PostfixBytes: 2,
			KeepPostfix:  true,
		})
		require.NoError(t, parser.Append(wire))

		want := append(append([]byte{}, packet...), postfix...)
		got := drainAll(t, parser)
		require.Len(t, got, 3)
		for _, bytes := range got {
			assert.Equal(t, want, bytes)
		}
	})

	t.Run("keep both", func(t *testing.T) {
		parser := NewParser(ParserConfig{
			PrefixBytes:  4,
			KeepPrefix:   true,
			PostfixBytes: 2,
			KeepPostfix:  true,
		})
		require.NoError(t, parser.Append(wire))

		var want []byte
		want = append(want, prefix...)
		want = append(want, packet...)
		want = append(want, postfix...)

		got := drainAll(t, parser)
		require.Len(t, got, 3)
		for _, bytes := range got {
			assert.Equal(t, want, bytes)
		}
	})

	t.Run("drop both", func(t *testing.T) {
		parser := NewParser(ParserConfig{
			PrefixBytes:  4,
			PostfixBytes: 2,
		})
		require.NoError(t, parser.Append(wire))

		got := drainAll(t, parser)
		require.Len(t, got, 3)
		for _, bytes := range got {
			assert.Equal(t, packet, bytes)
		}
	})
}

func TestFrameWrapperHeaderOffset(t *testing.T) {
	packet := testPacket(3, []byte{0x01, 0x02})
	wire := append([]byte{0xAA, 0xBB}, packet...)

	parser := NewParser(ParserConfig{PrefixBytes: 2, KeepPrefix: true})
	require.NoError(t, parser.Append(wire))

	pkt, ok := parser.Pull()
	require.True(t, ok)
	assert.Equal(t, 2, pkt.HeaderOffset)
	assert.Equal(t, wire, pkt.Bytes)
}

func TestFixedSizeMode(t *testing.T) {
	// Fixed 10-byte packets: header plus 4 data bytes, length field
	// deliberately nonsense.
	header := PrimaryHeader{APID: 5, LengthField: 0x1234}
	encoded := header.Encode(false)

	var wire []byte
	wire = append(wire, encoded[:]...)
	wire = append(wire, 0x01, 0x02, 0x03, 0x04)
	wire = append(wire, encoded[:]...)
	wire = append(wire, 0x05, 0x06, 0x07, 0x08)

	parser := NewParser(ParserConfig{FixedLength: 10})
	require.NoError(t, parser.Append(wire))

	got := drainAll(t, parser)
	require.Len(t, got, 2)
	assert.Equal(t, wire[:10], got[0])
	assert.Equal(t, wire[10:], got[1])
}

func TestPartialPacketHeldBack(t *testing.T) {
	packet := testPacket(1, []byte{0x01, 0x02, 0x03})

	parser := NewParser(ParserConfig{})
	require.NoError(t, parser.Append(packet[:len(packet)-1]))

	_, ok := parser.Pull()
	require.False(t, ok, "incomplete packet must not be yielded")

	require.NoError(t, parser.Append(packet[len(packet)-1:]))
	pkt, ok := parser.Pull()
	require.True(t, ok)
	assert.Equal(t, packet, pkt.Bytes)
}

func TestAppendOverflow(t *testing.T) {
	parser := NewParser(ParserConfig{})

	// A maximum-size packet fits.
	big := make([]byte, MaxPacketLength)
	require.NoError(t, parser.Append(big))

	// One more byte without consuming anything does not.
	err := parser.Append([]byte{0x00})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestSpareCapacityRecovers(t *testing.T) {
	packet := testPacket(1, []byte{0x01})
	parser := NewParser(ParserConfig{})

	full := parser.SpareCapacity()
	require.NoError(t, parser.Append(packet))
	assert.Equal(t, full-len(packet), parser.SpareCapacity())

	_, ok := parser.Pull()
	require.True(t, ok)

	// Consumed bytes are reclaimed on the next append.
	require.NoError(t, parser.Append(nil))
	assert.Equal(t, full, parser.SpareCapacity())
}
