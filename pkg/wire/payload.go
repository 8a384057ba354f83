package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/n0izn0iz/vst-bridge/pkg/shmbuf"
)

// Kind tags the variant carried by a Payload.
type Kind uint8

const (
	KindNone Kind = iota
	KindNumeric
	KindString
	KindWantsString
	KindChunk
	KindWantsChunk
	KindStruct
	KindEvents
	KindTimeInfo
	KindWantsTimeInfo
	KindDescriptor
	KindBufferConfig
	KindRect

	numKinds
)

var kindNames = [...]string{
	KindNone:          "none",
	KindNumeric:       "numeric",
	KindString:        "string",
	KindWantsString:   "wants-string",
	KindChunk:         "chunk",
	KindWantsChunk:    "wants-chunk",
	KindStruct:        "struct",
	KindEvents:        "events",
	KindTimeInfo:      "time-info",
	KindWantsTimeInfo: "wants-time-info",
	KindDescriptor:    "descriptor",
	KindBufferConfig:  "buffer-config",
	KindRect:          "rect",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Payload is the data argument of an Event or EventResult. The set of
// implementations is closed; switch on the concrete type or on Kind().
type Payload interface {
	Kind() Kind
	appendContent(b []byte) []byte
}

type (
	// None carries no data.
	None struct{}
	// Numeric is a plain integer passed through the data pointer.
	Numeric int64
	// String is a null terminated string read from or written to the data pointer.
	String string
	// WantsString asks the other side to write a string into the response.
	WantsString struct{}
	// Chunk is an opaque binary block such as plugin state.
	Chunk []byte
	// WantsChunk asks the other side to return a Chunk.
	WantsChunk struct{}
	// WantsTimeInfo asks the host for the current transport information.
	WantsTimeInfo struct{}
)

// Struct is an already serialized per-interface structure. The bridge never
// looks inside it.
type Struct struct {
	Type string
	Data []byte
}

// Events is a list of timed MIDI events.
type Events []MidiEvent

// MidiEvent mirrors one entry of a VstEvents list. SysEx events keep their
// dump in Data.
type MidiEvent struct {
	Type            int32
	DeltaFrames     int32
	Flags           int32
	NoteLength      int32
	NoteOffset      int32
	Data            []byte
	Detune          int8
	NoteOffVelocity uint8
}

// Midi event types.
const (
	MidiEventType  int32 = 1
	SysExEventType int32 = 6
)

// TimeInfo is the transport state reported by the host.
type TimeInfo struct {
	SamplePos          float64
	SampleRate         float64
	NanoSeconds        float64
	PpqPos             float64
	Tempo              float64
	BarStartPos        float64
	CycleStartPos      float64
	CycleEndPos        float64
	TimeSigNumerator   int32
	TimeSigDenominator int32
	SmpteOffset        int32
	SmpteFrameRate     int32
	SamplesToNextClock int32
	Flags              int32
}

// Descriptor is a snapshot of the plugin's AEffect fields.
type Descriptor struct {
	Magic        int32
	NumPrograms  int32
	NumParams    int32
	NumInputs    int32
	NumOutputs   int32
	Flags        int32
	InitialDelay int32
	UniqueID     int32
	Version      int32
}

// Descriptor flags.
const (
	FlagHasEditor          int32 = 1 << 0
	FlagCanReplacing       int32 = 1 << 4
	FlagProgramChunks      int32 = 1 << 5
	FlagIsSynth            int32 = 1 << 8
	FlagNoSoundInStop      int32 = 1 << 9
	FlagCanDoubleReplacing int32 = 1 << 12
)

// BufferConfig carries a shared audio buffer layout.
type BufferConfig struct {
	shmbuf.Config
}

// Rect is an editor window rectangle.
type Rect struct {
	Top, Left, Bottom, Right int16
}

func (None) Kind() Kind          { return KindNone }
func (Numeric) Kind() Kind       { return KindNumeric }
func (String) Kind() Kind        { return KindString }
func (WantsString) Kind() Kind   { return KindWantsString }
func (Chunk) Kind() Kind         { return KindChunk }
func (WantsChunk) Kind() Kind    { return KindWantsChunk }
func (Struct) Kind() Kind        { return KindStruct }
func (Events) Kind() Kind        { return KindEvents }
func (TimeInfo) Kind() Kind      { return KindTimeInfo }
func (WantsTimeInfo) Kind() Kind { return KindWantsTimeInfo }
func (Descriptor) Kind() Kind    { return KindDescriptor }
func (BufferConfig) Kind() Kind  { return KindBufferConfig }
func (Rect) Kind() Kind          { return KindRect }

// KindOf returns KindNone for a nil payload.
func KindOf(p Payload) Kind {
	if p == nil {
		return KindNone
	}
	return p.Kind()
}

// Payload field numbers. Field 1 is always the kind.
const (
	payloadKind     protowire.Number = 1
	payloadNumeric  protowire.Number = 2
	payloadBytes    protowire.Number = 3
	payloadTypeName protowire.Number = 4
	payloadEvent    protowire.Number = 5
	payloadNested   protowire.Number = 6
)

func (None) appendContent(b []byte) []byte          { return b }
func (WantsString) appendContent(b []byte) []byte   { return b }
func (WantsChunk) appendContent(b []byte) []byte    { return b }
func (WantsTimeInfo) appendContent(b []byte) []byte { return b }

func (p Numeric) appendContent(b []byte) []byte {
	return appendSint(b, payloadNumeric, int64(p))
}

func (p String) appendContent(b []byte) []byte {
	b = protowire.AppendTag(b, payloadBytes, protowire.BytesType)
	return protowire.AppendString(b, string(p))
}

func (p Chunk) appendContent(b []byte) []byte {
	b = protowire.AppendTag(b, payloadBytes, protowire.BytesType)
	return protowire.AppendBytes(b, p)
}

func (p Struct) appendContent(b []byte) []byte {
	b = protowire.AppendTag(b, payloadTypeName, protowire.BytesType)
	b = protowire.AppendString(b, p.Type)
	b = protowire.AppendTag(b, payloadBytes, protowire.BytesType)
	return protowire.AppendBytes(b, p.Data)
}

func (p Events) appendContent(b []byte) []byte {
	for i := range p {
		b = appendMessage(b, payloadEvent, p[i].AppendWire)
	}
	return b
}

func (p TimeInfo) appendContent(b []byte) []byte {
	return appendMessage(b, payloadNested, p.AppendWire)
}

func (p Descriptor) appendContent(b []byte) []byte {
	return appendMessage(b, payloadNested, p.AppendWire)
}

func (p BufferConfig) appendContent(b []byte) []byte {
	return appendMessage(b, payloadNested, p.AppendWire)
}

func (p Rect) appendContent(b []byte) []byte {
	return appendMessage(b, payloadNested, p.AppendWire)
}

func appendPayload(b []byte, p Payload) []byte {
	if p == nil {
		p = None{}
	}
	b = protowire.AppendTag(b, payloadKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Kind()))
	return p.appendContent(b)
}

func decodePayload(b []byte) (Payload, error) {
	var (
		kind     Kind
		numeric  int64
		data     []byte
		typeName string
		events   Events
		nested   []byte
	)
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case payloadKind:
			v, n := consumeVarint(typ, b)
			kind = Kind(v)
			return n, nil
		case payloadNumeric:
			v, n := consumeSint(typ, b)
			numeric = v
			return n, nil
		case payloadBytes:
			v, n := consumeBytes(typ, b)
			data = v
			return n, nil
		case payloadTypeName:
			v, n := consumeString(typ, b)
			typeName = v
			return n, nil
		case payloadEvent:
			v, n := consumeBytes(typ, b)
			if n < 0 {
				return n, nil
			}
			var ev MidiEvent
			if err := ev.UnmarshalWire(v); err != nil {
				return 0, err
			}
			events = append(events, ev)
			return n, nil
		case payloadNested:
			v, n := consumeBytes(typ, b)
			nested = v
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindNone:
		return None{}, nil
	case KindNumeric:
		return Numeric(numeric), nil
	case KindString:
		return String(data), nil
	case KindWantsString:
		return WantsString{}, nil
	case KindChunk:
		return Chunk(append([]byte{}, data...)), nil
	case KindWantsChunk:
		return WantsChunk{}, nil
	case KindStruct:
		return Struct{Type: typeName, Data: append([]byte(nil), data...)}, nil
	case KindEvents:
		return events, nil
	case KindTimeInfo:
		var ti TimeInfo
		err := ti.UnmarshalWire(nested)
		return ti, err
	case KindWantsTimeInfo:
		return WantsTimeInfo{}, nil
	case KindDescriptor:
		var d Descriptor
		err := d.UnmarshalWire(nested)
		return d, err
	case KindBufferConfig:
		var c BufferConfig
		err := c.UnmarshalWire(nested)
		return c, err
	case KindRect:
		var r Rect
		err := r.UnmarshalWire(nested)
		return r, err
	}
	return nil, fmt.Errorf("unknown payload kind %d", kind)
}

// AppendWire implements Message.
func (e *MidiEvent) AppendWire(b []byte) []byte {
	b = appendSint(b, 1, int64(e.Type))
	b = appendSint(b, 2, int64(e.DeltaFrames))
	b = appendSint(b, 3, int64(e.Flags))
	b = appendSint(b, 4, int64(e.NoteLength))
	b = appendSint(b, 5, int64(e.NoteOffset))
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Data)
	b = appendSint(b, 7, int64(e.Detune))
	b = appendSint(b, 8, int64(e.NoteOffVelocity))
	return b
}

// UnmarshalWire implements Message.
func (e *MidiEvent) UnmarshalWire(b []byte) error {
	*e = MidiEvent{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 6 {
			v, n := consumeBytes(typ, b)
			e.Data = append([]byte(nil), v...)
			return n, nil
		}
		v, n := consumeSint(typ, b)
		switch num {
		case 1:
			e.Type = int32(v)
		case 2:
			e.DeltaFrames = int32(v)
		case 3:
			e.Flags = int32(v)
		case 4:
			e.NoteLength = int32(v)
		case 5:
			e.NoteOffset = int32(v)
		case 7:
			e.Detune = int8(v)
		case 8:
			e.NoteOffVelocity = uint8(v)
		default:
			return 0, nil
		}
		return n, nil
	})
}

// AppendWire implements Message.
func (t *TimeInfo) AppendWire(b []byte) []byte {
	for i, v := range []float64{
		t.SamplePos, t.SampleRate, t.NanoSeconds, t.PpqPos,
		t.Tempo, t.BarStartPos, t.CycleStartPos, t.CycleEndPos,
	} {
		b = appendDouble(b, protowire.Number(i+1), v)
	}
	for i, v := range []int32{
		t.TimeSigNumerator, t.TimeSigDenominator, t.SmpteOffset,
		t.SmpteFrameRate, t.SamplesToNextClock, t.Flags,
	} {
		b = appendSint(b, protowire.Number(i+9), int64(v))
	}
	return b
}

// UnmarshalWire implements Message.
func (t *TimeInfo) UnmarshalWire(b []byte) error {
	*t = TimeInfo{}
	doubles := []*float64{
		&t.SamplePos, &t.SampleRate, &t.NanoSeconds, &t.PpqPos,
		&t.Tempo, &t.BarStartPos, &t.CycleStartPos, &t.CycleEndPos,
	}
	ints := []*int32{
		&t.TimeSigNumerator, &t.TimeSigDenominator, &t.SmpteOffset,
		&t.SmpteFrameRate, &t.SamplesToNextClock, &t.Flags,
	}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num >= 1 && num <= 8:
			v, n := consumeDouble(typ, b)
			*doubles[num-1] = v
			return n, nil
		case num >= 9 && num <= 14:
			v, n := consumeSint(typ, b)
			*ints[num-9] = int32(v)
			return n, nil
		}
		return 0, nil
	})
}

func (d *Descriptor) fields() []*int32 {
	return []*int32{
		&d.Magic, &d.NumPrograms, &d.NumParams, &d.NumInputs, &d.NumOutputs,
		&d.Flags, &d.InitialDelay, &d.UniqueID, &d.Version,
	}
}

// AppendWire implements Message.
func (d *Descriptor) AppendWire(b []byte) []byte {
	for i, v := range d.fields() {
		b = appendSint(b, protowire.Number(i+1), int64(*v))
	}
	return b
}

// UnmarshalWire implements Message.
func (d *Descriptor) UnmarshalWire(b []byte) error {
	*d = Descriptor{}
	fields := d.fields()
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num < 1 || int(num) > len(fields) {
			return 0, nil
		}
		v, n := consumeSint(typ, b)
		*fields[num-1] = int32(v)
		return n, nil
	})
}

// AppendWire implements Message.
func (c *BufferConfig) AppendWire(b []byte) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, c.Name)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Size))
	for _, bus := range c.InputOffsets {
		b = appendPacked(b, 3, bus)
	}
	for _, bus := range c.OutputOffsets {
		b = appendPacked(b, 4, bus)
	}
	return b
}

// UnmarshalWire implements Message.
func (c *BufferConfig) UnmarshalWire(b []byte) error {
	*c = BufferConfig{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := consumeString(typ, b)
			c.Name = v
			return n, nil
		case 2:
			v, n := consumeVarint(typ, b)
			c.Size = uint32(v)
			return n, nil
		case 3, 4:
			v, n := consumeBytes(typ, b)
			if n < 0 {
				return n, nil
			}
			bus, err := consumePacked(v)
			if err != nil {
				return 0, err
			}
			if num == 3 {
				c.InputOffsets = append(c.InputOffsets, bus)
			} else {
				c.OutputOffsets = append(c.OutputOffsets, bus)
			}
			return n, nil
		}
		return 0, nil
	})
}

// AppendWire implements Message.
func (r *Rect) AppendWire(b []byte) []byte {
	b = appendSint(b, 1, int64(r.Top))
	b = appendSint(b, 2, int64(r.Left))
	b = appendSint(b, 3, int64(r.Bottom))
	b = appendSint(b, 4, int64(r.Right))
	return b
}

// UnmarshalWire implements Message.
func (r *Rect) UnmarshalWire(b []byte) error {
	*r = Rect{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		v, n := consumeSint(typ, b)
		switch num {
		case 1:
			r.Top = int16(v)
		case 2:
			r.Left = int16(v)
		case 3:
			r.Bottom = int16(v)
		case 4:
			r.Right = int16(v)
		default:
			return 0, nil
		}
		return n, nil
	})
}
