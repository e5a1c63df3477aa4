// timing package decides how long to hold each packet before emission,
// implementing the four shaping disciplines: as-fast-as-possible, fixed
// per-packet delay, minimum inter-packet throttle, and replay against
// embedded packet timestamps.
package timing

import (
	"encoding/binary"
	"time"

	"golang.org/x/time/rate"

	"github.com/nsmryan/ccsds-router/ccsds"
)

// Discipline selects the shaping mode.
type Discipline int

const (
	// Asap emits every packet immediately.
	Asap Discipline = iota

	// Replay schedules packets at their original relative offsets,
	// anchored on the first packet's embedded timestamp.
	Replay

	// Delay holds every packet for a fixed interval. The pause is
	// per-packet, not relative to the previous emission.
	Delay

	// Throttle enforces a minimum inter-packet period, only slowing
	// emission that would otherwise be faster.
	Throttle
)

func (d Discipline) String() string {
	switch d {
	case Asap:
		return "Asap"
	case Replay:
		return "Replay"
	case Delay:
		return "Delay"
	case Throttle:
		return "Throttle"
	default:
		return "Unknown"
	}
}

// Setting is a discipline plus its interval. Interval is meaningful for
// Delay and Throttle only.
type Setting struct {
	Discipline Discipline
	Interval   time.Duration
}

// StampDef locates and formats the embedded packet timestamp: a seconds
// field followed by a subseconds field, each 0/1/2/4 bytes, starting
// Offset bytes past the primary header.
type StampDef struct {
	Offset              int
	SecondsSize         int
	SubsecondsSize      int
	SubsecondResolution float64
	LittleEndian        bool
}

// Clock abstracts the monotonic time source so shaping is testable.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Shaper computes the hold interval for each packet. It owns the replay
// anchor and, for Throttle, a rate limiter whose reservation accounting
// yields the minimum inter-packet period.
type Shaper struct {
	setting Setting
	def     StampDef
	clock   Clock

	anchorSet bool
	anchor    time.Time

	limiter *rate.Limiter
}

func NewShaper(setting Setting, def StampDef) *Shaper {
	return NewShaperWithClock(setting, def, realClock{})
}

func NewShaperWithClock(setting Setting, def StampDef, clock Clock) *Shaper {
	s := &Shaper{
		setting: setting,
		def:     def,
		clock:   clock,
	}
	s.Reset()
	return s
}

// Reset clears the replay anchor and throttle history. Called on every
// transition into Processing.
func (s *Shaper) Reset() {
	s.anchorSet = false
	s.anchor = time.Time{}
	if s.setting.Discipline == Throttle && s.setting.Interval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(s.setting.Interval), 1)
	}
}

// Hold returns how long to pause before emitting pkt. Never negative.
func (s *Shaper) Hold(pkt ccsds.Packet) time.Duration {
	now := s.clock.Now()

	switch s.setting.Discipline {
	case Asap:
		return 0

	case Delay:
		return s.setting.Interval

	case Throttle:
		if s.limiter == nil {
			return 0
		}
		return s.limiter.ReserveN(now, 1).DelayFrom(now)

	case Replay:
		stamp := s.decodeStamp(pkt)
		if !s.anchorSet {
			// System time that corresponds to the first packet's
			// embedded timestamp.
			s.anchor = now.Add(-stamp)
			s.anchorSet = true
			return 0
		}
		hold := s.anchor.Add(stamp).Sub(now)
		if hold < 0 {
			return 0
		}
		return hold

	default:
		return 0
	}
}

// decodeStamp reads the embedded timestamp from the packet's retained
// bytes. A packet too short for the configured fields decodes as zero.
func (s *Shaper) decodeStamp(pkt ccsds.Packet) time.Duration {
	start := pkt.HeaderOffset + ccsds.PrimaryHeaderLength + s.def.Offset
	end := start + s.def.SecondsSize + s.def.SubsecondsSize
	if start < pkt.HeaderOffset || end > len(pkt.Bytes) {
		return 0
	}

	secs := decodeField(pkt.Bytes[start:start+s.def.SecondsSize], s.def.LittleEndian)
	subs := decodeField(pkt.Bytes[start+s.def.SecondsSize:end], s.def.LittleEndian)

	d := time.Duration(secs) * time.Second
	d += time.Duration(float64(subs) * s.def.SubsecondResolution * float64(time.Second))
	return d
}

// decodeField reads a 0/1/2/4 byte unsigned integer.
func decodeField(b []byte, littleEndian bool) uint64 {
	switch len(b) {
	case 0:
		return 0
	case 1:
		return uint64(b[0])
	case 2:
		if littleEndian {
			return uint64(binary.LittleEndian.Uint16(b))
		}
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		if littleEndian {
			return uint64(binary.LittleEndian.Uint32(b))
		}
		return uint64(binary.BigEndian.Uint32(b))
	default:
		return 0
	}
}
