package route

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/nsmryan/ccsds-router/ccsds"
	"github.com/nsmryan/ccsds-router/cfg"
	"github.com/nsmryan/ccsds-router/printer"
	"github.com/nsmryan/ccsds-router/stream"
	"github.com/nsmryan/ccsds-router/timing"
)

const (
	// Bounded input-to-processor channel; blocking sends give natural
	// backpressure and bound memory under a slow output.
	DefaultQueueDepth = 100

	// Command and event queues between the UI collaborator and the
	// processor never apply backpressure in practice.
	commandQueueDepth = 64
	eventQueueDepth   = 1024
)

type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Processor is the packet-routing state machine. It owns the output
// streams, the shaping engine, and the session lifecycle; one input
// goroutine is spawned per Start.
type Processor struct {
	commands chan Command
	events   chan Event

	queueDepth int
	clock      clock

	state int32

	// Live only while Processing/Paused.
	config    cfg.AppConfig
	shaper    *timing.Shaper
	outputs   []stream.WriteStream
	outFilter []map[uint16]bool
	packets   chan packetMsg
	stopInput chan struct{}
}

func NewProcessor() *Processor {
	return &Processor{
		commands:   make(chan Command, commandQueueDepth),
		events:     make(chan Event, eventQueueDepth),
		queueDepth: DefaultQueueDepth,
		clock:      realClock{},
	}
}

// Commands is where the UI collaborator sends state-change requests.
func (p *Processor) Commands() chan<- Command {
	return p.commands
}

// Events is where the processor reports packet updates and errors.
func (p *Processor) Events() <-chan Event {
	return p.events
}

// State is a point-in-time snapshot for observability; transitions are
// owned exclusively by Run.
func (p *Processor) State() State {
	return State(atomic.LoadInt32(&p.state))
}

func (p *Processor) setState(s State) {
	atomic.StoreInt32(&p.state, int32(s))
	printer.Debugf("processor state now %s\n", s)
}

// Run executes the state machine until Terminate. It is the only
// goroutine that touches the processor's session state.
func (p *Processor) Run() {
	for {
		switch p.State() {
		case Idle:
			p.runIdle()
		case Paused:
			p.runPaused()
		case Processing:
			p.runProcessing()
			// A Pause keeps the session's streams open; every other way
			// out of Processing releases them.
			if p.State() != Paused {
				p.closeSession()
			}
		case Terminating:
			p.closeSession()
			p.events <- Terminated{}
			return
		}
	}
}

func (p *Processor) runIdle() {
	cmd, ok := <-p.commands
	if !ok {
		// Peer gone; nothing left to drive us.
		p.setState(Terminating)
		return
	}

	switch cmd.Kind {
	case CmdStart:
		if cmd.Config == nil {
			p.errorf("Start command with no configuration")
			return
		}
		if err := p.openSession(*cmd.Config); err != nil {
			p.errorf("%v", err)
			p.events <- Finished{}
			return
		}
		p.setState(Processing)

	case CmdTerminate:
		p.setState(Terminating)

	default:
		p.errorf("Unexpected command while idle: %s", cmd.Name())
	}
}

func (p *Processor) runPaused() {
	cmd, ok := <-p.commands
	if !ok {
		p.setState(Terminating)
		return
	}

	switch cmd.Kind {
	case CmdContinue:
		// Re-anchor replay on every transition into Processing.
		if p.shaper != nil {
			p.shaper.Reset()
		}
		p.setState(Processing)
	case CmdCancel:
		p.setState(Idle)
		p.closeSession()
		p.events <- Finished{}
	case CmdTerminate:
		p.setState(Terminating)
	default:
		p.errorf("Unexpected command while paused: %s", cmd.Name())
	}
}

// runProcessing is the per-packet loop. It returns when the state leaves
// Processing; the caller tears the session down unless we are Paused.
func (p *Processor) runProcessing() {
	for p.State() == Processing {
		select {
		case cmd, ok := <-p.commands:
			if !p.handleProcessingCommand(cmd, ok) {
				return
			}

		case msg := <-p.packets:
			switch msg.kind {
			case msgPacket:
				p.routePacket(msg.packet)

			case msgDropped:
				p.events <- PacketDropped{Header: msg.dropped}

			case msgStreamEnd:
				p.setState(Idle)
				p.events <- Finished{}

			case msgOpenError, msgReadError, msgParseError:
				p.setState(Idle)
				p.errorf("%v", msg.err)
				p.events <- Finished{}
			}
		}
	}
}

// handleProcessingCommand applies a command received between packets.
// Returns false when the per-packet loop should stop.
func (p *Processor) handleProcessingCommand(cmd Command, ok bool) bool {
	if !ok {
		p.setState(Terminating)
		return false
	}

	switch cmd.Kind {
	case CmdPause:
		p.setState(Paused)
		return false
	case CmdCancel:
		p.setState(Idle)
		p.events <- Finished{}
		return false
	case CmdTerminate:
		p.setState(Terminating)
		return false
	default:
		p.errorf("Unexpected command while processing: %s", cmd.Name())
		return true
	}
}

// routePacket holds the packet per the shaping engine, then fans it out
// to every output whose APID filter admits it. The hold is a bounded
// wait on the command channel, so the processor services commands at
// least once per packet regardless of the configured timing.
func (p *Processor) routePacket(pkt ccsds.Packet) {
	hold := p.shaper.Hold(pkt)
	deadline := p.clock.Now().Add(hold)

	emit, pauseAfterSend := p.waitDeadline(deadline)
	if !emit {
		return
	}

	// Length guard uses the CCSDS length, ignoring the frame wrapper.
	if int32(pkt.Header.PacketLength()) > p.config.MaxLengthBytes {
		p.errorf("Unexpected packet length %d for APID %d. Packet Dropped",
			pkt.Header.PacketLength(), pkt.Header.APID)
		return
	}

	for i, out := range p.outputs {
		if p.outFilter[i] != nil && !p.outFilter[i][pkt.Header.APID] {
			continue
		}
		if _, err := out.Write(pkt.Bytes); err != nil {
			// One bad output does not abort delivery to the others.
			p.errorf("write to %s failed: %v", p.config.OutputName(i), err)
		}
	}

	p.events <- PacketUpdate{
		APID:         pkt.Header.APID,
		PacketLength: uint16(len(pkt.Bytes)),
		SeqCount:     pkt.Header.SeqCount,
		RecvTime:     pkt.RecvTime,
	}

	if pauseAfterSend {
		p.setState(Paused)
	}
}

// waitDeadline services commands until the emission deadline. Returns
// whether the packet should still be emitted and whether to pause after
// sending it (a Pause lets the in-flight packet through).
func (p *Processor) waitDeadline(deadline time.Time) (emit, pauseAfter bool) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			// One final non-blocking poll so a pending command is
			// serviced even when the hold is zero.
			select {
			case cmd, ok := <-p.commands:
				done, sendAnyway := p.holdCommand(cmd, ok)
				if done {
					return sendAnyway, sendAnyway
				}
				continue
			default:
				return true, false
			}
		}

		timer := time.NewTimer(remaining)
		select {
		case cmd, ok := <-p.commands:
			timer.Stop()
			done, sendAnyway := p.holdCommand(cmd, ok)
			if done {
				return sendAnyway, sendAnyway
			}
		case <-timer.C:
			return true, false
		}
	}
}

// holdCommand applies a command received during a packet's hold. The
// first return is whether the hold loop should end; the second is
// whether the packet should still be sent (Pause lets the in-flight
// packet through).
func (p *Processor) holdCommand(cmd Command, ok bool) (done, sendAnyway bool) {
	if !ok {
		p.setState(Terminating)
		return true, false
	}

	switch cmd.Kind {
	case CmdPause:
		return true, true
	case CmdCancel:
		p.setState(Idle)
		p.events <- Finished{}
		return true, false
	case CmdTerminate:
		p.setState(Terminating)
		return true, false
	default:
		p.errorf("Unexpected command while processing: %s", cmd.Name())
		return false, false
	}
}

// openSession opens every output stream and spawns the input task.
func (p *Processor) openSession(config cfg.AppConfig) error {
	outputs := make([]stream.WriteStream, 0, len(config.OutputSelection))
	for i, sel := range config.OutputSelection {
		ws, err := stream.OpenOutput(sel, config.OutputSettings[i])
		if err != nil {
			for _, open := range outputs {
				open.Close()
			}
			return errors.Wrapf(err, "failed to open %s", config.OutputName(i))
		}
		outputs = append(outputs, ws)
	}

	p.config = config
	p.outputs = outputs
	p.outFilter = make([]map[uint16]bool, len(outputs))
	for i := range outputs {
		p.outFilter[i] = config.OutputAPIDs(i)
	}

	// The replay anchor starts cleared on every session.
	p.shaper = timing.NewShaperWithClock(config.TimestampSetting.Setting, config.TimestampDef.Def(), p.clock)

	p.packets = make(chan packetMsg, p.queueDepth)
	p.stopInput = make(chan struct{})

	input := &inputTask{
		config: config,
		out:    p.packets,
		done:   p.stopInput,
		clock:  p.clock,
	}
	go input.run()

	return nil
}

// closeSession stops the input task and releases the streams. Safe to
// call when no session is open.
func (p *Processor) closeSession() {
	if p.stopInput != nil {
		close(p.stopInput)
		p.stopInput = nil
	}
	for _, out := range p.outputs {
		out.Close()
	}
	p.outputs = nil
	p.outFilter = nil
	p.packets = nil
	p.shaper = nil
}

func (p *Processor) errorf(format string, args ...interface{}) {
	msg := errors.Errorf(format, args...).Error()
	printer.Errorln(msg)
	p.events <- ErrorEvent{Msg: msg}
}
