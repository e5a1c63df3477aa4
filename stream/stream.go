// stream package provides a uniform read/write abstraction over the four
// transport endpoint kinds: file, UDP, outgoing TCP, and listening TCP.
package stream

import (
	"bufio"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nsmryan/ccsds-router/cfg"
	"github.com/nsmryan/ccsds-router/printer"
)

const (
	// Network reads time out after this so the reading task can notice
	// cancellation and the control plane stays responsive.
	readTimeout = 250 * time.Millisecond

	// One datagram per read; anything larger than this is not a legal
	// CCSDS packet plus frame wrapper.
	maxDatagramSize = 65536 + 512
)

// ReadStream is a source of bytes. Read follows io.Reader conventions
// except that nominal end of input surfaces as Err{KindEnd} and network
// reads return Err{KindTimeout} when the read deadline expires.
type ReadStream interface {
	io.ReadCloser
}

// WriteStream is a sink for packets. Each Write delivers the full slice
// or returns an error.
type WriteStream interface {
	io.WriteCloser
}

// OpenInput constructs the configured input endpoint.
func OpenInput(sel cfg.StreamOption, settings cfg.StreamSettings) (ReadStream, error) {
	switch sel {
	case cfg.OptionFile:
		f, err := os.Open(settings.File.FileName)
		if err != nil {
			return nil, openErr(err, "failed to open %s for reading", settings.File.FileName)
		}
		return &fileReadStream{r: bufio.NewReader(f), f: f}, nil

	case cfg.OptionTCPClient:
		conn, err := net.DialTimeout("tcp", settings.TCPClient.Addr(), 10*time.Second)
		if err != nil {
			return nil, openErr(err, "failed to connect to %s", settings.TCPClient.Addr())
		}
		return &tcpStream{conn: conn.(*net.TCPConn)}, nil

	case cfg.OptionTCPServer:
		return acceptOne(settings.TCPServer.Addr())

	case cfg.OptionUDP:
		// Input binds the configured address; this is where the traffic
		// is addressed.
		addr, err := net.ResolveUDPAddr("udp", settings.UDP.Addr())
		if err != nil {
			return nil, openErr(err, "bad udp address %s", settings.UDP.Addr())
		}
		sock, err := net.ListenUDP("udp", addr)
		if err != nil {
			return nil, openErr(err, "failed to bind udp %s", settings.UDP.Addr())
		}
		return &udpReadStream{sock: sock}, nil

	default:
		return nil, Err{Kind: KindOpen, Err: errors.Errorf("unknown input selection %d", sel)}
	}
}

// OpenOutput constructs the configured output endpoint.
func OpenOutput(sel cfg.StreamOption, settings cfg.StreamSettings) (WriteStream, error) {
	switch sel {
	case cfg.OptionFile:
		f, err := os.OpenFile(settings.File.FileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, openErr(err, "failed to open %s for writing", settings.File.FileName)
		}
		return &fileWriteStream{f: f}, nil

	case cfg.OptionTCPClient:
		conn, err := net.DialTimeout("tcp", settings.TCPClient.Addr(), 10*time.Second)
		if err != nil {
			return nil, openErr(err, "failed to connect to %s", settings.TCPClient.Addr())
		}
		return &tcpStream{conn: conn.(*net.TCPConn)}, nil

	case cfg.OptionTCPServer:
		return acceptOne(settings.TCPServer.Addr())

	case cfg.OptionUDP:
		// Output sends from an ephemeral port to the configured address.
		addr, err := net.ResolveUDPAddr("udp", settings.UDP.Addr())
		if err != nil {
			return nil, openErr(err, "bad udp address %s", settings.UDP.Addr())
		}
		sock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
		if err != nil {
			return nil, openErr(err, "failed to open udp socket for writing")
		}
		return &udpWriteStream{sock: sock, dest: addr}, nil

	default:
		return nil, Err{Kind: KindOpen, Err: errors.Errorf("unknown output selection %d", sel)}
	}
}

// acceptOne binds a listener, accepts exactly one client, then closes
// the listener. The accepted connection behaves as a stream socket for
// both reading and writing.
func acceptOne(addr string) (*tcpStream, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, openErr(err, "failed to listen on %s", addr)
	}
	defer listener.Close()

	conn, err := listener.Accept()
	if err != nil {
		return nil, openErr(err, "failed to accept on %s", addr)
	}

	session := uuid.New()
	printer.Infof("accepted connection from %s (session %s)\n", conn.RemoteAddr(), session)

	return &tcpStream{conn: conn.(*net.TCPConn)}, nil
}

/* File */

type fileReadStream struct {
	r *bufio.Reader
	f *os.File
}

func (s *fileReadStream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err == io.EOF {
		return n, Err{Kind: KindEnd}
	}
	if err != nil {
		return n, ioErr(err, "file read failed")
	}
	return n, nil
}

func (s *fileReadStream) Close() error {
	return s.f.Close()
}

type fileWriteStream struct {
	f *os.File
}

func (s *fileWriteStream) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	if err != nil {
		return n, ioErr(err, "file write failed")
	}
	// Each packet reaches the OS before the next is processed.
	if err := s.f.Sync(); err != nil {
		return n, ioErr(err, "file sync failed")
	}
	return n, nil
}

func (s *fileWriteStream) Close() error {
	return s.f.Close()
}

/* UDP */

type udpReadStream struct {
	sock    *net.UDPConn
	staging [maxDatagramSize]byte
}

func (s *udpReadStream) Read(p []byte) (int, error) {
	if err := s.sock.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return 0, ioErr(err, "failed to set udp read deadline")
	}

	n, _, err := s.sock.ReadFromUDP(s.staging[:])
	if err != nil {
		if isTimeout(err) {
			return 0, Err{Kind: KindTimeout}
		}
		return 0, ioErr(err, "udp read failed")
	}
	if n > len(p) {
		return 0, ioErr(errors.Errorf("datagram of %d bytes exceeds buffer of %d", n, len(p)),
			"partial datagram")
	}
	return copy(p, s.staging[:n]), nil
}

func (s *udpReadStream) Close() error {
	return s.sock.Close()
}

type udpWriteStream struct {
	sock *net.UDPConn
	dest *net.UDPAddr
}

func (s *udpWriteStream) Write(p []byte) (int, error) {
	n, err := s.sock.WriteToUDP(p, s.dest)
	if err != nil {
		return n, ioErr(err, "udp send to %s failed", s.dest)
	}
	return n, nil
}

func (s *udpWriteStream) Close() error {
	return s.sock.Close()
}

/* TCP (both connect and accept sides) */

type tcpStream struct {
	conn *net.TCPConn
}

func (s *tcpStream) Read(p []byte) (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return 0, ioErr(err, "failed to set tcp read deadline")
	}

	n, err := s.conn.Read(p)
	if err != nil {
		if isTimeout(err) {
			return n, Err{Kind: KindTimeout}
		}
		if err == io.EOF {
			return n, Err{Kind: KindEnd}
		}
		return n, ioErr(err, "tcp read failed")
	}
	return n, nil
}

func (s *tcpStream) Write(p []byte) (int, error) {
	n, err := s.conn.Write(p)
	if err != nil {
		return n, ioErr(err, "tcp write failed")
	}
	return n, nil
}

func (s *tcpStream) Close() error {
	return s.conn.Close()
}

/* Null */

// NullRead is the sentinel input used before a stream exists.
type NullRead struct{}

func (NullRead) Read(p []byte) (int, error) {
	return 0, Err{Kind: KindClosed, Err: errors.New("read on null stream")}
}

func (NullRead) Close() error { return nil }

// NullWrite is the sentinel output; writes succeed silently.
type NullWrite struct{}

func (NullWrite) Write(p []byte) (int, error) {
	return len(p), nil
}

func (NullWrite) Close() error { return nil }

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
