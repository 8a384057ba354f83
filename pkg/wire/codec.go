package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is anything that can travel in one endpoint frame.
type Message interface {
	AppendWire(b []byte) []byte
	UnmarshalWire(b []byte) error
}

// Marshal encodes m into a fresh buffer.
func Marshal(m Message) []byte {
	return m.AppendWire(nil)
}

// errCodeWireType is returned as a byte count by the consume helpers when a
// field does not carry the wire type its decoder expects.
const errCodeWireType = -100

// consumeFields walks the fields of an encoded message. fn returns the number
// of bytes it consumed for the field value, or 0 to have the field skipped.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == errCodeWireType {
			return fmt.Errorf("field %d: unexpected wire type %d", num, typ)
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int) {
	if typ != protowire.VarintType {
		return 0, errCodeWireType
	}
	return protowire.ConsumeVarint(b)
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int) {
	if typ != protowire.BytesType {
		return nil, errCodeWireType
	}
	return protowire.ConsumeBytes(b)
}

func consumeString(typ protowire.Type, b []byte) (string, int) {
	if typ != protowire.BytesType {
		return "", errCodeWireType
	}
	return protowire.ConsumeString(b)
}

func consumeSint(typ protowire.Type, b []byte) (int64, int) {
	v, n := consumeVarint(typ, b)
	return protowire.DecodeZigZag(v), n
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func consumeBool(typ protowire.Type, b []byte) (bool, int) {
	v, n := consumeVarint(typ, b)
	return v != 0, n
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func consumeDouble(typ protowire.Type, b []byte) (float64, int) {
	if typ != protowire.Fixed64Type {
		return 0, errCodeWireType
	}
	v, n := protowire.ConsumeFixed64(b)
	return math.Float64frombits(v), n
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func consumeFloat(typ protowire.Type, b []byte) (float32, int) {
	if typ != protowire.Fixed32Type {
		return 0, errCodeWireType
	}
	v, n := protowire.ConsumeFixed32(b)
	return math.Float32frombits(v), n
}

func appendMessage(b []byte, num protowire.Number, appendFn func([]byte) []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, appendFn(nil))
}

func appendPacked(b []byte, num protowire.Number, vs []uint32) []byte {
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func consumePacked(b []byte) ([]uint32, error) {
	vs := []uint32{}
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		vs = append(vs, uint32(v))
		b = b[n:]
	}
	return vs, nil
}
