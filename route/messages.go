package route

import (
	"time"

	"github.com/nsmryan/ccsds-router/ccsds"
	"github.com/nsmryan/ccsds-router/cfg"
)

// State is the processor's current position in its state machine.
type State int32

const (
	// Idle means waiting for a command to start or terminate.
	Idle State = iota

	// Processing means packets are flowing from input to outputs.
	Processing

	// Paused means processing is suspended awaiting Continue.
	Paused

	// Terminating means the processor is shutting down.
	Terminating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Processing:
		return "Processing"
	case Paused:
		return "Paused"
	case Terminating:
		return "Terminating"
	default:
		return "Unknown"
	}
}

// CommandKind enumerates the commands the UI collaborator can send.
type CommandKind int

const (
	CmdStart CommandKind = iota
	CmdPause
	CmdContinue
	CmdCancel
	CmdTerminate
)

// Command is a state-change request from the UI collaborator to the
// processor. Config is set for CmdStart only.
type Command struct {
	Kind   CommandKind
	Config *cfg.AppConfig
}

func (c Command) Name() string {
	switch c.Kind {
	case CmdStart:
		return "Start"
	case CmdPause:
		return "Pause"
	case CmdContinue:
		return "Continue"
	case CmdCancel:
		return "Cancel"
	case CmdTerminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}

// Event is a message from the processor to the UI collaborator.
type Event interface {
	isEvent()
}

// PacketUpdate reports a packet delivered to the outputs.
type PacketUpdate struct {
	APID         uint16
	PacketLength uint16
	SeqCount     uint16
	RecvTime     time.Time
}

// PacketDropped reports a packet discarded by the input APID filter.
type PacketDropped struct {
	Header ccsds.PrimaryHeader
}

// Finished reports nominal completion of a processing session.
type Finished struct{}

// Terminated reports that the processor has exited its loop.
type Terminated struct{}

// ErrorEvent reports a failure; the processor has already taken the
// corresponding state transition.
type ErrorEvent struct {
	Msg string
}

func (PacketUpdate) isEvent()  {}
func (PacketDropped) isEvent() {}
func (Finished) isEvent()      {}
func (Terminated) isEvent()    {}
func (ErrorEvent) isEvent()    {}

// packetMsg travels on the bounded input-to-processor channel.
type packetMsgKind int

const (
	msgPacket packetMsgKind = iota
	msgDropped
	msgReadError
	msgParseError
	msgOpenError
	msgStreamEnd
)

type packetMsg struct {
	kind    packetMsgKind
	packet  ccsds.Packet
	dropped ccsds.PrimaryHeader
	err     error
}
