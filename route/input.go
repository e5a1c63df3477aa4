package route

import (
	"github.com/pkg/errors"

	"github.com/nsmryan/ccsds-router/ccsds"
	"github.com/nsmryan/ccsds-router/cfg"
	"github.com/nsmryan/ccsds-router/printer"
	"github.com/nsmryan/ccsds-router/stream"
)

// inputTask owns the read stream and the parser. It opens its own
// stream so that a failed open surfaces through the packet channel like
// any other input-side failure.
type inputTask struct {
	config cfg.AppConfig
	out    chan<- packetMsg
	done   <-chan struct{}
	clock  clock
}

// run reads bytes into the parser and drains complete packets onto the
// bounded channel until an error, end of stream, or cancellation.
func (t *inputTask) run() {
	rs, err := stream.OpenInput(t.config.InputSelection, t.config.InputSettings)
	if err != nil {
		t.send(packetMsg{kind: msgOpenError, err: err})
		return
	}
	defer rs.Close()

	parser := ccsds.NewParser(t.config.ParserConfig())
	parser.OnDrop = func(header ccsds.PrimaryHeader) {
		t.send(packetMsg{kind: msgDropped, dropped: header})
	}

	buf := make([]byte, 0)
	for {
		select {
		case <-t.done:
			return
		default:
		}

		// Read at most what the parser can hold; the bounded channel
		// plus this cap bounds input-side memory.
		spare := parser.SpareCapacity()
		if spare <= 0 {
			t.send(packetMsg{kind: msgParseError, err: ccsds.ErrOverflow})
			return
		}
		if cap(buf) < spare {
			buf = make([]byte, spare)
		}
		buf = buf[:spare]

		n, err := rs.Read(buf)
		if err != nil {
			switch stream.KindOf(err) {
			case stream.KindTimeout:
				continue
			case stream.KindEnd:
				t.drain(parser)
				t.send(packetMsg{kind: msgStreamEnd})
				return
			default:
				t.send(packetMsg{kind: msgReadError, err: errors.Wrap(err, "input read failed")})
				return
			}
		}
		if n == 0 {
			continue
		}

		if err := parser.Append(buf[:n]); err != nil {
			t.send(packetMsg{kind: msgParseError, err: err})
			return
		}

		if !t.drain(parser) {
			return
		}
	}
}

// drain pulls every complete packet out of the parser. Returns false if
// cancelled mid-drain.
func (t *inputTask) drain(parser *ccsds.Parser) bool {
	for {
		pkt, ok := parser.Pull()
		if !ok {
			return true
		}
		pkt.RecvTime = t.clock.Now()
		if !t.send(packetMsg{kind: msgPacket, packet: pkt}) {
			return false
		}
	}
}

// send delivers a message, blocking for backpressure. Returns false if
// the processor has cancelled the session.
func (t *inputTask) send(msg packetMsg) bool {
	select {
	case t.out <- msg:
		return true
	case <-t.done:
		printer.Debugln("input task cancelled while sending")
		return false
	}
}
