package stream

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsmryan/ccsds-router/cfg"
)

func fileSettings(path string) cfg.StreamSettings {
	return cfg.StreamSettings{File: cfg.FileSettings{FileName: path}}
}

func TestFileReadUntilEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x01, 0x02, 0x03}, 0644))

	rs, err := OpenInput(cfg.OptionFile, fileSettings(path))
	require.NoError(t, err)
	defer rs.Close()

	buf := make([]byte, 16)
	n, err := rs.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, buf[:n])

	_, err = rs.Read(buf)
	require.Error(t, err)
	assert.True(t, IsEnd(err), "EOF surfaces as StreamEnd, got %v", err)
}

func TestFileOpenMissing(t *testing.T) {
	_, err := OpenInput(cfg.OptionFile, fileSettings(filepath.Join(t.TempDir(), "absent.bin")))
	require.Error(t, err)
	assert.Equal(t, KindOpen, KindOf(err))
}

func TestFileWriteAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.bin")

	ws, err := OpenOutput(cfg.OptionFile, fileSettings(path))
	require.NoError(t, err)

	_, err = ws.Write([]byte{0xAA})
	require.NoError(t, err)
	_, err = ws.Write([]byte{0xBB, 0xCC})
	require.NoError(t, err)
	require.NoError(t, ws.Close())

	// Reopening appends rather than truncating.
	ws, err = OpenOutput(cfg.OptionFile, fileSettings(path))
	require.NoError(t, err)
	_, err = ws.Write([]byte{0xDD})
	require.NoError(t, err)
	require.NoError(t, ws.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, data)
}

func TestUDPDatagramPerRead(t *testing.T) {
	settings := cfg.StreamSettings{UDP: cfg.UDPSettings{IP: "127.0.0.1", Port: freeUDPPort(t)}}

	rs, err := OpenInput(cfg.OptionUDP, settings)
	require.NoError(t, err)
	defer rs.Close()

	ws, err := OpenOutput(cfg.OptionUDP, settings)
	require.NoError(t, err)
	defer ws.Close()

	first := []byte{0x01, 0x02, 0x03}
	second := []byte{0x04}
	_, err = ws.Write(first)
	require.NoError(t, err)
	_, err = ws.Write(second)
	require.NoError(t, err)

	buf := make([]byte, 1024)
	n := readRetry(t, rs, buf)
	assert.Equal(t, first, buf[:n])

	n = readRetry(t, rs, buf)
	assert.Equal(t, second, buf[:n])
}

func TestUDPReadTimesOut(t *testing.T) {
	settings := cfg.StreamSettings{UDP: cfg.UDPSettings{IP: "127.0.0.1", Port: freeUDPPort(t)}}

	rs, err := OpenInput(cfg.OptionUDP, settings)
	require.NoError(t, err)
	defer rs.Close()

	buf := make([]byte, 16)
	start := time.Now()
	_, err = rs.Read(buf)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestTCPAcceptAndConnect(t *testing.T) {
	port := freeTCPPort(t)
	settings := cfg.StreamSettings{
		TCPClient: cfg.TCPClientSettings{IP: "127.0.0.1", Port: port},
		TCPServer: cfg.TCPServerSettings{IP: "127.0.0.1", Port: port},
	}

	type acceptResult struct {
		rs  ReadStream
		err error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		rs, err := OpenInput(cfg.OptionTCPServer, settings)
		accepted <- acceptResult{rs, err}
	}()

	// Give the listener a moment to bind before connecting.
	var ws WriteStream
	var err error
	require.Eventually(t, func() bool {
		ws, err = OpenOutput(cfg.OptionTCPClient, settings)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	defer ws.Close()

	result := <-accepted
	require.NoError(t, result.err)
	defer result.rs.Close()

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	_, err = ws.Write(payload)
	require.NoError(t, err)

	buf := make([]byte, 16)
	n := readRetry(t, result.rs, buf)
	assert.Equal(t, payload, buf[:n])
}

func TestTCPReadEndOnPeerClose(t *testing.T) {
	port := freeTCPPort(t)
	settings := cfg.StreamSettings{
		TCPClient: cfg.TCPClientSettings{IP: "127.0.0.1", Port: port},
		TCPServer: cfg.TCPServerSettings{IP: "127.0.0.1", Port: port},
	}

	accepted := make(chan ReadStream, 1)
	go func() {
		rs, err := OpenInput(cfg.OptionTCPServer, settings)
		if err == nil {
			accepted <- rs
		}
	}()

	var ws WriteStream
	var err error
	require.Eventually(t, func() bool {
		ws, err = OpenOutput(cfg.OptionTCPClient, settings)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	rs := <-accepted
	defer rs.Close()
	require.NoError(t, ws.Close())

	buf := make([]byte, 16)
	for {
		_, err := rs.Read(buf)
		if err == nil || IsTimeout(err) {
			continue
		}
		assert.True(t, IsEnd(err), "peer close surfaces as StreamEnd, got %v", err)
		return
	}
}

func TestNullStreams(t *testing.T) {
	var rs NullRead
	_, err := rs.Read(make([]byte, 4))
	require.Error(t, err)
	assert.Equal(t, KindClosed, KindOf(err))

	var ws NullWrite
	n, err := ws.Write([]byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// readRetry reads past the 250ms deadline expiries a live-network test
// may hit.
func readRetry(t *testing.T, rs ReadStream, buf []byte) int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := rs.Read(buf)
		if err == nil {
			return n
		}
		if !IsTimeout(err) {
			t.Fatalf("read failed: %v", err)
		}
	}
	t.Fatal("timed out waiting for data")
	return 0
}

func freeUDPPort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	return uint16(conn.LocalAddr().(*net.UDPAddr).Port)
}

func freeTCPPort(t *testing.T) uint16 {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	return uint16(listener.Addr().(*net.TCPAddr).Port)
}
