package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/n0izn0iz/vst-bridge/pkg/shmbuf"
)

func roundtrip(t *testing.T, in Message, out Message) {
	t.Helper()
	require.NoError(t, out.UnmarshalWire(Marshal(in)))
}

func TestEventPayloads(t *testing.T) {
	payloads := []Payload{
		None{},
		Numeric(-42),
		String("Gain"),
		WantsString{},
		Chunk{0, 1, 2, 0xff},
		WantsChunk{},
		Struct{Type: "VstSpeakerArrangement", Data: []byte{1, 2, 3}},
		Events{
			{Type: MidiEventType, DeltaFrames: 12, Data: []byte{0x90, 60, 100}, Detune: -3, NoteOffVelocity: 64},
			{Type: SysExEventType, Data: []byte{0xf0, 0x7e, 0xf7}},
		},
		TimeInfo{SamplePos: 1024, SampleRate: 48000, Tempo: 120, TimeSigNumerator: 4, TimeSigDenominator: 4, Flags: 3},
		WantsTimeInfo{},
		Descriptor{Magic: 0x56737450, NumInputs: 2, NumOutputs: 2, Flags: FlagCanReplacing | FlagHasEditor, UniqueID: -7},
		BufferConfig{shmbuf.Config{Name: "inst", Size: 64, InputOffsets: [][]uint32{{0, 4}}, OutputOffsets: [][]uint32{{8, 12}}}},
		Rect{Top: 0, Left: 0, Bottom: 480, Right: 640},
	}

	for _, p := range payloads {
		t.Run(p.Kind().String(), func(t *testing.T) {
			in := &Event{Opcode: EffSetChunk, Index: 3, Value: -1, Payload: p, Option: 0.5}
			var out Event
			roundtrip(t, in, &out)
			require.Equal(t, *in, out)
		})
	}
}

func TestEventNilPayloadDecodesAsNone(t *testing.T) {
	var out Event
	roundtrip(t, &Event{Opcode: EffOpen}, &out)
	require.Equal(t, None{}, out.Payload)
	require.Nil(t, out.ValuePayload)
}

func TestEventResultValuePayload(t *testing.T) {
	in := &EventResult{ReturnValue: 1, Payload: Rect{Bottom: 10, Right: 20}, ValuePayload: Numeric(7)}
	var out EventResult
	roundtrip(t, in, &out)
	require.Equal(t, *in, out)
}

func TestProcessRequest(t *testing.T) {
	prio := int32(10)
	in := &ProcessRequest{
		SampleFrames:        512,
		DoublePrecision:     true,
		NewRealtimePriority: &prio,
		CurrentTimeInfo:     &TimeInfo{SamplePos: 512, Tempo: 90},
		CurrentProcessLevel: 2,
	}
	var out ProcessRequest
	roundtrip(t, in, &out)
	require.Equal(t, *in, out)

	var bare ProcessRequest
	roundtrip(t, &ProcessRequest{SampleFrames: 64}, &bare)
	require.Nil(t, bare.NewRealtimePriority)
	require.Nil(t, bare.CurrentTimeInfo)
}

func TestParameter(t *testing.T) {
	v := float32(0.25)
	var set Parameter
	roundtrip(t, &Parameter{Index: 5, Value: &v}, &set)
	require.NotNil(t, set.Value)
	require.Equal(t, v, *set.Value)

	var get Parameter
	roundtrip(t, &Parameter{Index: 5}, &get)
	require.Nil(t, get.Value)
}

func TestConfigEventLoopInterval(t *testing.T) {
	c := Config{}
	require.Equal(t, int64(16666666), c.EventLoopInterval().Nanoseconds())
	c.FrameRate = 30
	require.Equal(t, int64(33333333), c.EventLoopInterval().Nanoseconds())

	var out Config
	roundtrip(t, &Config{FrameRate: 144, HideDAW: true}, &out)
	require.Equal(t, Config{FrameRate: 144, HideDAW: true}, out)
}

func TestMalformedPayload(t *testing.T) {
	var out Event
	require.Error(t, out.UnmarshalWire([]byte{0x22, 0x05, 0x08}))
}

func TestEmptyChunk(t *testing.T) {
	var out EventResult
	roundtrip(t, &EventResult{Payload: Chunk{}}, &out)
	require.Equal(t, Chunk{}, out.Payload)
	require.NotNil(t, out.Payload.(Chunk))
}

func TestWrongWireType(t *testing.T) {
	// Rect.Top as fixed32 instead of a varint
	b := protowire.AppendTag(nil, 1, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)
	var r Rect
	require.ErrorContains(t, r.UnmarshalWire(b), "unexpected wire type")

	// a payload kind sent as bytes
	b = protowire.AppendTag(nil, payloadKind, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{1, 2, 3})
	_, err := decodePayload(b)
	require.Error(t, err)

	// unknown fields are still skipped whatever their type
	b = protowire.AppendTag(nil, 9, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{1})
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(640))
	require.NoError(t, r.UnmarshalWire(b))
	require.Equal(t, Rect{Right: 640}, r)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	require.NoError(t, r.ValidateRequest(Dispatch, &Event{Opcode: EffGetChunk, Payload: WantsChunk{}}))
	require.NoError(t, r.ValidateResponse(Dispatch, EffGetChunk, &EventResult{Payload: Chunk{1}}))
	require.NoError(t, r.ValidateResponse(Dispatch, EffMainsChanged, &EventResult{}))
	require.NoError(t, r.ValidateResponse(Dispatch, EffMainsChanged, &EventResult{Payload: BufferConfig{}}))
	require.NoError(t, r.ValidateRequest(Callback, &Event{Opcode: AudioMasterGetTime, Payload: WantsTimeInfo{}}))

	err := r.ValidateRequest(Dispatch, &Event{Opcode: EffProcessEvents, Payload: String("x")})
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, KindString, perr.Got)
	require.Contains(t, err.Error(), "effProcessEvents")

	require.Panics(t, func() {
		r.MustValidateResponse(Dispatch, EffGetEffectName, &EventResult{Payload: Numeric(1)})
	})

	// Unregistered opcodes accept the generic kinds only.
	require.NoError(t, r.ValidateRequest(Dispatch, &Event{Opcode: EffVendorSpecific, Payload: Numeric(3)}))
	require.Error(t, r.ValidateRequest(Dispatch, &Event{Opcode: EffVendorSpecific, Payload: Events{}}))
}

func TestOpcodeName(t *testing.T) {
	require.Equal(t, "effSetProcessPrecision", OpcodeName(Dispatch, 77))
	require.Equal(t, "audioMasterUpdateDisplay", OpcodeName(Callback, 42))
	require.Equal(t, "<opcode 999>", OpcodeName(Callback, 999))
}
