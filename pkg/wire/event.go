package wire

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Event is one dispatcher call or host callback.
type Event struct {
	Opcode  int32
	Index   int32
	Value   int64
	Payload Payload
	// ValuePayload is set for the few opcodes that pass a pointer through
	// the value argument.
	ValuePayload Payload
	Option       float32
}

// EventResult is the response to an Event.
type EventResult struct {
	ReturnValue  int64
	Payload      Payload
	ValuePayload Payload
}

// AppendWire implements Message.
func (e *Event) AppendWire(b []byte) []byte {
	b = appendSint(b, 1, int64(e.Opcode))
	b = appendSint(b, 2, int64(e.Index))
	b = appendSint(b, 3, e.Value)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, appendPayload(nil, e.Payload))
	if e.ValuePayload != nil {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, appendPayload(nil, e.ValuePayload))
	}
	return appendFloat(b, 6, e.Option)
}

// UnmarshalWire implements Message.
func (e *Event) UnmarshalWire(b []byte) error {
	*e = Event{Payload: None{}}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := consumeSint(typ, b)
			e.Opcode = int32(v)
			return n, nil
		case 2:
			v, n := consumeSint(typ, b)
			e.Index = int32(v)
			return n, nil
		case 3:
			v, n := consumeSint(typ, b)
			e.Value = v
			return n, nil
		case 4, 5:
			v, n := consumeBytes(typ, b)
			if n < 0 {
				return n, nil
			}
			p, err := decodePayload(v)
			if err != nil {
				return 0, err
			}
			if num == 4 {
				e.Payload = p
			} else {
				e.ValuePayload = p
			}
			return n, nil
		case 6:
			v, n := consumeFloat(typ, b)
			e.Option = v
			return n, nil
		}
		return 0, nil
	})
}

// AppendWire implements Message.
func (r *EventResult) AppendWire(b []byte) []byte {
	b = appendSint(b, 1, r.ReturnValue)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, appendPayload(nil, r.Payload))
	if r.ValuePayload != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, appendPayload(nil, r.ValuePayload))
	}
	return b
}

// UnmarshalWire implements Message.
func (r *EventResult) UnmarshalWire(b []byte) error {
	*r = EventResult{Payload: None{}}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := consumeSint(typ, b)
			r.ReturnValue = v
			return n, nil
		case 2, 3:
			v, n := consumeBytes(typ, b)
			if n < 0 {
				return n, nil
			}
			p, err := decodePayload(v)
			if err != nil {
				return 0, err
			}
			if num == 2 {
				r.Payload = p
			} else {
				r.ValuePayload = p
			}
			return n, nil
		}
		return 0, nil
	})
}

// Parameter is a getParameter call when Value is nil and a setParameter call
// otherwise.
type Parameter struct {
	Index int32
	Value *float32
}

// AppendWire implements Message.
func (p *Parameter) AppendWire(b []byte) []byte {
	b = appendSint(b, 1, int64(p.Index))
	if p.Value != nil {
		b = appendFloat(b, 2, *p.Value)
	}
	return b
}

// UnmarshalWire implements Message.
func (p *Parameter) UnmarshalWire(b []byte) error {
	*p = Parameter{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := consumeSint(typ, b)
			p.Index = int32(v)
			return n, nil
		case 2:
			v, n := consumeFloat(typ, b)
			p.Value = &v
			return n, nil
		}
		return 0, nil
	})
}

// ParameterResult carries the value for a getParameter call and nothing for
// a setParameter call.
type ParameterResult struct {
	Value *float32
}

// AppendWire implements Message.
func (p *ParameterResult) AppendWire(b []byte) []byte {
	if p.Value != nil {
		b = appendFloat(b, 1, *p.Value)
	}
	return b
}

// UnmarshalWire implements Message.
func (p *ParameterResult) UnmarshalWire(b []byte) error {
	*p = ParameterResult{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		v, n := consumeFloat(typ, b)
		p.Value = &v
		return n, nil
	})
}

// ProcessRequest is sent once per audio block. Audio itself lives in the
// shared buffer.
type ProcessRequest struct {
	SampleFrames    int32
	DoublePrecision bool
	// NewRealtimePriority is set when the host's audio thread priority
	// should be mirrored onto the audio worker.
	NewRealtimePriority *int32
	// CurrentTimeInfo is prefetched so the plugin's audioMasterGetTime
	// calls during this block do not need a callback.
	CurrentTimeInfo     *TimeInfo
	CurrentProcessLevel int32
}

// AppendWire implements Message.
func (r *ProcessRequest) AppendWire(b []byte) []byte {
	b = appendSint(b, 1, int64(r.SampleFrames))
	b = appendBool(b, 2, r.DoublePrecision)
	if r.NewRealtimePriority != nil {
		b = appendSint(b, 3, int64(*r.NewRealtimePriority))
	}
	if r.CurrentTimeInfo != nil {
		b = appendMessage(b, 4, r.CurrentTimeInfo.AppendWire)
	}
	return appendSint(b, 5, int64(r.CurrentProcessLevel))
}

// UnmarshalWire implements Message.
func (r *ProcessRequest) UnmarshalWire(b []byte) error {
	*r = ProcessRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := consumeSint(typ, b)
			r.SampleFrames = int32(v)
			return n, nil
		case 2:
			v, n := consumeBool(typ, b)
			r.DoublePrecision = v
			return n, nil
		case 3:
			v, n := consumeSint(typ, b)
			prio := int32(v)
			r.NewRealtimePriority = &prio
			return n, nil
		case 4:
			v, n := consumeBytes(typ, b)
			if n < 0 {
				return n, nil
			}
			var ti TimeInfo
			if err := ti.UnmarshalWire(v); err != nil {
				return 0, err
			}
			r.CurrentTimeInfo = &ti
			return n, nil
		case 5:
			v, n := consumeSint(typ, b)
			r.CurrentProcessLevel = int32(v)
			return n, nil
		}
		return 0, nil
	})
}

// Ack acknowledges a processed audio block.
type Ack struct{}

// AppendWire implements Message.
func (Ack) AppendWire(b []byte) []byte { return b }

// UnmarshalWire implements Message.
func (*Ack) UnmarshalWire([]byte) error { return nil }

// DefaultFrameRate is the editor refresh rate used when Config leaves it unset.
const DefaultFrameRate = 60.0

// Config is the per-instance session configuration the host sends after
// receiving the plugin's descriptor.
type Config struct {
	// FrameRate is the rate of the event loop timer in Hz.
	FrameRate float64
	// HideDAW reports an override product and vendor name to the plugin.
	HideDAW bool
	// CacheTimeInfo makes the host prefetch transport information for
	// every audio block.
	CacheTimeInfo bool
}

// EventLoopInterval returns the delay between two event loop ticks.
func (c *Config) EventLoopInterval() time.Duration {
	rate := c.FrameRate
	if rate <= 0 {
		rate = DefaultFrameRate
	}
	return time.Duration(float64(time.Second) / rate)
}

// AppendWire implements Message.
func (c *Config) AppendWire(b []byte) []byte {
	b = appendDouble(b, 1, c.FrameRate)
	b = appendBool(b, 2, c.HideDAW)
	return appendBool(b, 3, c.CacheTimeInfo)
}

// UnmarshalWire implements Message.
func (c *Config) UnmarshalWire(b []byte) error {
	*c = Config{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := consumeDouble(typ, b)
			c.FrameRate = v
			return n, nil
		case 2:
			v, n := consumeBool(typ, b)
			c.HideDAW = v
			return n, nil
		case 3:
			v, n := consumeBool(typ, b)
			c.CacheTimeInfo = v
			return n, nil
		}
		return 0, nil
	})
}
