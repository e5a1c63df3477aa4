// cfg package holds the application configuration, loaded from a JSON
// file at startup and cloned into the processor at Start. The JSON keys
// form the compatibility contract with existing configuration files.
package cfg

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/nsmryan/ccsds-router/ccsds"
	"github.com/nsmryan/ccsds-router/timing"
)

// DefaultPath is the configuration file used when none is given on the
// command line.
const DefaultPath = "ccsds_router.json"

// StreamOption selects which endpoint kind a stream uses. The integer
// tags are part of the JSON contract.
type StreamOption int

const (
	OptionFile      StreamOption = 1
	OptionTCPClient StreamOption = 2
	OptionTCPServer StreamOption = 3
	OptionUDP       StreamOption = 4
)

func (o StreamOption) String() string {
	switch o {
	case OptionFile:
		return "File"
	case OptionTCPClient:
		return "TcpClient"
	case OptionTCPServer:
		return "TcpServer"
	case OptionUDP:
		return "Udp"
	default:
		return fmt.Sprintf("StreamOption(%d)", int(o))
	}
}

// FileSettings is everything needed to use a file as a stream.
type FileSettings struct {
	FileName string `json:"file_name"`
}

// TCPClientSettings configures an outgoing TCP connection.
type TCPClientSettings struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

func (s TCPClientSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.IP, s.Port)
}

// TCPServerSettings configures a listening TCP endpoint.
type TCPServerSettings struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

func (s TCPServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.IP, s.Port)
}

// UDPSettings configures a UDP endpoint. Input binds this address;
// output sends to it.
type UDPSettings struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

func (s UDPSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.IP, s.Port)
}

// StreamSettings carries the parameters for all endpoint kinds; the
// matching StreamOption picks which one is live. Name is an optional
// label used in log messages.
type StreamSettings struct {
	Name      string            `json:"name,omitempty"`
	File      FileSettings      `json:"file"`
	TCPClient TCPClientSettings `json:"tcp_client"`
	TCPServer TCPServerSettings `json:"tcp_server"`
	UDP       UDPSettings       `json:"udp"`
}

// FrameSettings describes the fixed-size wrapper around each CCSDS
// packet in the byte stream, with independent keep-on-output flags.
type FrameSettings struct {
	PrefixBytes  int  `json:"prefix_bytes"`
	KeepPrefix   bool `json:"keep_prefix"`
	PostfixBytes int  `json:"postfix_bytes"`
	KeepPostfix  bool `json:"keep_postfix"`
}

// GuiTheme is consumed by the UI collaborator only; carried here so
// round-tripping a config file preserves it.
type GuiTheme string

const (
	ThemeDark  GuiTheme = "Dark"
	ThemeLight GuiTheme = "Light"
)

// PacketSize selects variable-size packets (sized from the header length
// field) or a fixed total size. Encodes as "Variable" or {"Fixed": N}.
type PacketSize struct {
	Fixed uint32
	IsFix bool
}

func VariableSize() PacketSize {
	return PacketSize{}
}

func FixedSize(n uint32) PacketSize {
	return PacketSize{Fixed: n, IsFix: true}
}

func (p PacketSize) MarshalJSON() ([]byte, error) {
	if !p.IsFix {
		return json.Marshal("Variable")
	}
	return json.Marshal(map[string]uint32{"Fixed": p.Fixed})
}

func (p *PacketSize) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		if tag != "Variable" {
			return errors.Errorf("unknown packet_size %q", tag)
		}
		*p = PacketSize{}
		return nil
	}

	var obj map[string]uint32
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(err, "bad packet_size")
	}
	n, ok := obj["Fixed"]
	if !ok {
		return errors.New("packet_size object must have a Fixed key")
	}
	*p = PacketSize{Fixed: n, IsFix: true}
	return nil
}

// durationParts is the JSON shape of a Delay/Throttle interval.
type durationParts struct {
	Secs  int64 `json:"secs"`
	Nanos int64 `json:"nanos"`
}

func (d durationParts) duration() time.Duration {
	return time.Duration(d.Secs)*time.Second + time.Duration(d.Nanos)
}

func partsOf(d time.Duration) durationParts {
	return durationParts{
		Secs:  int64(d / time.Second),
		Nanos: int64(d % time.Second),
	}
}

// TimestampSetting wraps the shaping discipline. Encodes as "Asap",
// "Replay", {"Delay": {secs, nanos}}, or {"Throttle": {secs, nanos}}.
type TimestampSetting struct {
	timing.Setting
}

func (t TimestampSetting) MarshalJSON() ([]byte, error) {
	switch t.Discipline {
	case timing.Asap:
		return json.Marshal("Asap")
	case timing.Replay:
		return json.Marshal("Replay")
	case timing.Delay:
		return json.Marshal(map[string]durationParts{"Delay": partsOf(t.Interval)})
	case timing.Throttle:
		return json.Marshal(map[string]durationParts{"Throttle": partsOf(t.Interval)})
	default:
		return nil, errors.Errorf("unknown timestamp_setting discipline %d", t.Discipline)
	}
}

func (t *TimestampSetting) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		switch tag {
		case "Asap":
			t.Setting = timing.Setting{Discipline: timing.Asap}
		case "Replay":
			t.Setting = timing.Setting{Discipline: timing.Replay}
		default:
			return errors.Errorf("unknown timestamp_setting %q", tag)
		}
		return nil
	}

	var obj map[string]durationParts
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(err, "bad timestamp_setting")
	}
	if parts, ok := obj["Delay"]; ok {
		t.Setting = timing.Setting{Discipline: timing.Delay, Interval: parts.duration()}
		return nil
	}
	if parts, ok := obj["Throttle"]; ok {
		t.Setting = timing.Setting{Discipline: timing.Throttle, Interval: parts.duration()}
		return nil
	}
	return errors.New("timestamp_setting object must have a Delay or Throttle key")
}

// TimeSize is the width of a timestamp field, constrained to the common
// cases. Encodes as a string tag.
type TimeSize string

const (
	ZeroBytes TimeSize = "ZeroBytes"
	OneByte   TimeSize = "OneByte"
	TwoBytes  TimeSize = "TwoBytes"
	FourBytes TimeSize = "FourBytes"
)

func (t TimeSize) NumBytes() int {
	switch t {
	case OneByte:
		return 1
	case TwoBytes:
		return 2
	case FourBytes:
		return 4
	default:
		return 0
	}
}

// TimestampDef locates and formats the embedded packet timestamp.
type TimestampDef struct {
	// Offset of the timestamp, where 0 is the byte after the primary
	// header. Nonzero values support formats that deviate from the
	// CCSDS time format standard.
	Offset int32 `json:"offset"`

	NumBytesSeconds    TimeSize `json:"num_bytes_seconds"`
	NumBytesSubseconds TimeSize `json:"num_bytes_subseconds"`

	// Seconds per LSB of the subseconds field, e.g. 0.001 for
	// millisecond resolution.
	SubsecondResolution float32 `json:"subsecond_resolution"`

	IsLittleEndian bool `json:"is_little_endian"`
}

// Def converts to the shaping engine's representation.
func (t TimestampDef) Def() timing.StampDef {
	return timing.StampDef{
		Offset:              int(t.Offset),
		SecondsSize:         t.NumBytesSeconds.NumBytes(),
		SubsecondsSize:      t.NumBytesSubseconds.NumBytes(),
		SubsecondResolution: float64(t.SubsecondResolution),
		LittleEndian:        t.IsLittleEndian,
	}
}

// AppConfig is the full configuration tree, cloned into the processor at
// Start. A nil APID list means "allow all".
type AppConfig struct {
	InputSettings  StreamSettings   `json:"input_settings"`
	OutputSettings []StreamSettings `json:"output_settings"`

	InputSelection  StreamOption   `json:"input_selection"`
	OutputSelection []StreamOption `json:"output_selection"`

	AllowedInputAPIDs  []uint16   `json:"allowed_input_apids"`
	AllowedOutputAPIDs [][]uint16 `json:"allowed_output_apids"`

	Theme GuiTheme `json:"theme"`

	PacketSize        PacketSize `json:"packet_size"`
	LittleEndianCCSDS bool       `json:"little_endian_ccsds"`

	FrameSettings FrameSettings `json:"frame_settings"`

	// Packets whose CCSDS length exceeds this are dropped with an error
	// rather than emitted.
	MaxLengthBytes int32 `json:"max_length_bytes"`

	TimestampSetting TimestampSetting `json:"timestamp_setting"`
	TimestampDef     TimestampDef     `json:"timestamp_def"`

	AutoStart bool `json:"auto_start"`

	// LogLevel feeds printer verbosity; "debug" enables debug output.
	LogLevel string `json:"log_level,omitempty"`

	// Version is the schema version written by whoever saved the file;
	// read-only passthrough.
	Version string `json:"version,omitempty"`
}

// Default is the configuration used when no file exists yet.
func Default() AppConfig {
	return AppConfig{
		InputSettings:   defaultStreamSettings(),
		OutputSettings:  []StreamSettings{defaultStreamSettings()},
		InputSelection:  OptionFile,
		OutputSelection: []StreamOption{OptionFile},
		Theme:           ThemeDark,
		PacketSize:      VariableSize(),
		MaxLengthBytes:  ccsds.MaxPacketLength,
		TimestampSetting: TimestampSetting{
			Setting: timing.Setting{Discipline: timing.Asap},
		},
		TimestampDef: TimestampDef{
			NumBytesSeconds:    ZeroBytes,
			NumBytesSubseconds: ZeroBytes,
		},
		LogLevel: "info",
	}
}

func defaultStreamSettings() StreamSettings {
	return StreamSettings{
		File:      FileSettings{FileName: "data.bin"},
		TCPClient: TCPClientSettings{IP: "127.0.0.1", Port: 8000},
		TCPServer: TCPServerSettings{IP: "127.0.0.1", Port: 8000},
		UDP:       UDPSettings{IP: "127.0.0.1", Port: 8001},
	}
}

// Load reads and validates a configuration file.
func Load(path string) (AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, errors.Wrapf(err, "failed to read config file %s", path)
	}

	config := Default()
	if err := json.Unmarshal(data, &config); err != nil {
		return AppConfig{}, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	if err := config.Validate(); err != nil {
		return AppConfig{}, errors.Wrapf(err, "invalid config file %s", path)
	}
	return config, nil
}

// Save writes the configuration back out, pretty-printed.
func Save(path string, config AppConfig) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to serialize config")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write config file %s", path)
	}
	return nil
}

// Validate checks cross-field consistency.
func (c AppConfig) Validate() error {
	if len(c.OutputSettings) != len(c.OutputSelection) {
		return errors.Errorf("%d output settings but %d output selections",
			len(c.OutputSettings), len(c.OutputSelection))
	}
	if c.AllowedOutputAPIDs != nil && len(c.AllowedOutputAPIDs) != len(c.OutputSelection) {
		return errors.Errorf("%d output APID lists but %d outputs",
			len(c.AllowedOutputAPIDs), len(c.OutputSelection))
	}

	for _, sel := range append([]StreamOption{c.InputSelection}, c.OutputSelection...) {
		switch sel {
		case OptionFile, OptionTCPClient, OptionTCPServer, OptionUDP:
		default:
			return errors.Errorf("unknown stream selection %d", sel)
		}
	}

	if c.PacketSize.IsFix && c.PacketSize.Fixed < ccsds.PrimaryHeaderLength {
		return errors.Errorf("fixed packet size %d smaller than the primary header", c.PacketSize.Fixed)
	}
	if c.MaxLengthBytes <= 0 {
		return errors.Errorf("max_length_bytes must be positive, got %d", c.MaxLengthBytes)
	}
	if c.FrameSettings.PrefixBytes < 0 || c.FrameSettings.PostfixBytes < 0 {
		return errors.New("frame prefix/postfix sizes must be non-negative")
	}

	switch c.Theme {
	case "", ThemeDark, ThemeLight:
	default:
		return errors.Errorf("unknown theme %q", c.Theme)
	}

	return nil
}

// ParserConfig derives the packet parser configuration.
func (c AppConfig) ParserConfig() ccsds.ParserConfig {
	fixed := 0
	if c.PacketSize.IsFix {
		fixed = int(c.PacketSize.Fixed)
	}
	return ccsds.ParserConfig{
		AllowedAPIDs:       APIDSet(c.AllowedInputAPIDs),
		FixedLength:        fixed,
		PrefixBytes:        c.FrameSettings.PrefixBytes,
		KeepPrefix:         c.FrameSettings.KeepPrefix,
		PostfixBytes:       c.FrameSettings.PostfixBytes,
		KeepPostfix:        c.FrameSettings.KeepPostfix,
		LittleEndianHeader: c.LittleEndianCCSDS,
	}
}

// OutputAPIDs returns output i's allow-list, or nil for allow-all.
func (c AppConfig) OutputAPIDs(i int) map[uint16]bool {
	if c.AllowedOutputAPIDs == nil || i >= len(c.AllowedOutputAPIDs) {
		return nil
	}
	return APIDSet(c.AllowedOutputAPIDs[i])
}

// OutputName returns a printable label for output i.
func (c AppConfig) OutputName(i int) string {
	if i < len(c.OutputSettings) && c.OutputSettings[i].Name != "" {
		return c.OutputSettings[i].Name
	}
	return fmt.Sprintf("output %d", i)
}

// APIDSet converts an allow-list to set form, preserving nil as
// allow-all.
func APIDSet(apids []uint16) map[uint16]bool {
	if apids == nil {
		return nil
	}
	set := make(map[uint16]bool, len(apids))
	for _, apid := range apids {
		set[apid] = true
	}
	return set
}
