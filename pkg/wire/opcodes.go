package wire

import "fmt"

// Dispatcher opcodes, sent from the host to the plugin.
const (
	EffOpen int32 = iota
	EffClose
	EffSetProgram
	EffGetProgram
	EffSetProgramName
	EffGetProgramName
	EffGetParamLabel
	EffGetParamDisplay
	EffGetParamName
	_
	EffSetSampleRate
	EffSetBlockSize
	EffMainsChanged
	EffEditGetRect
	EffEditOpen
	EffEditClose
	_
	_
	_
	EffEditIdle
	EffEditTop
	_
	_
	EffGetChunk
	EffSetChunk
	EffProcessEvents
	EffCanBeAutomated
	EffString2Parameter
	_
	EffGetProgramNameIndexed
	_
	_
	_
	EffGetInputProperties
	EffGetOutputProperties
	EffGetPlugCategory
	_
	_
	_
	_
	_
	_
	EffSetSpeakerArrangement
	_
	EffSetBypass
	EffGetEffectName
	_
	EffGetVendorString
	EffGetProductString
	EffGetVendorVersion
	EffVendorSpecific
	EffCanDo
	EffGetTailSize
	_
	_
	_
	EffGetParameterProperties
	_
	EffGetVstVersion
	EffEditKeyDown
	EffEditKeyUp
	EffSetEditKnobMode
	_
	_
	_
	_
	_
	EffBeginSetProgram
	EffEndSetProgram
	EffGetSpeakerArrangement
	EffShellGetNextPlugin
	EffStartProcess
	EffStopProcess
	_
	_
	_
	_
	EffSetProcessPrecision
)

// Host callback opcodes, sent from the plugin to the host.
const (
	AudioMasterAutomate int32 = iota
	AudioMasterVersion
	AudioMasterCurrentID
	AudioMasterIdle
	_
	_
	AudioMasterWantMidi
	AudioMasterGetTime
	AudioMasterProcessEvents
	_
	_
	_
	_
	AudioMasterIOChanged
	_
	AudioMasterSizeWindow
	AudioMasterGetSampleRate
	AudioMasterGetBlockSize
	AudioMasterGetInputLatency
	AudioMasterGetOutputLatency
	_
	_
	_
	AudioMasterGetCurrentProcessLevel
	AudioMasterGetAutomationState
	_
	_
	_
	_
	_
	_
	_
	AudioMasterGetVendorString
	AudioMasterGetProductString
	AudioMasterGetVendorVersion
	AudioMasterVendorSpecific
	_
	AudioMasterCanDo
	AudioMasterGetLanguage
	_
	_
	_
	AudioMasterUpdateDisplay
	AudioMasterBeginEdit
	AudioMasterEndEdit
)

// AudioMasterDeadBeef is a vendor extension some hosts send outside of
// audioMasterVendorSpecific.
const AudioMasterDeadBeef int32 = -559038737 // 0xdeadbeef

// Process precision values for EffSetProcessPrecision.
const (
	ProcessPrecision32 int64 = 0
	ProcessPrecision64 int64 = 1
)

var dispatchNames = map[int32]string{
	EffOpen:                   "effOpen",
	EffClose:                  "effClose",
	EffSetProgram:             "effSetProgram",
	EffGetProgram:             "effGetProgram",
	EffSetProgramName:         "effSetProgramName",
	EffGetProgramName:         "effGetProgramName",
	EffGetParamLabel:          "effGetParamLabel",
	EffGetParamDisplay:        "effGetParamDisplay",
	EffGetParamName:           "effGetParamName",
	EffSetSampleRate:          "effSetSampleRate",
	EffSetBlockSize:           "effSetBlockSize",
	EffMainsChanged:           "effMainsChanged",
	EffEditGetRect:            "effEditGetRect",
	EffEditOpen:               "effEditOpen",
	EffEditClose:              "effEditClose",
	EffEditIdle:               "effEditIdle",
	EffEditTop:                "effEditTop",
	EffGetChunk:               "effGetChunk",
	EffSetChunk:               "effSetChunk",
	EffProcessEvents:          "effProcessEvents",
	EffCanBeAutomated:         "effCanBeAutomated",
	EffString2Parameter:       "effString2Parameter",
	EffGetProgramNameIndexed:  "effGetProgramNameIndexed",
	EffGetInputProperties:     "effGetInputProperties",
	EffGetOutputProperties:    "effGetOutputProperties",
	EffGetPlugCategory:        "effGetPlugCategory",
	EffSetSpeakerArrangement:  "effSetSpeakerArrangement",
	EffSetBypass:              "effSetBypass",
	EffGetEffectName:          "effGetEffectName",
	EffGetVendorString:        "effGetVendorString",
	EffGetProductString:       "effGetProductString",
	EffGetVendorVersion:       "effGetVendorVersion",
	EffVendorSpecific:         "effVendorSpecific",
	EffCanDo:                  "effCanDo",
	EffGetTailSize:            "effGetTailSize",
	EffGetParameterProperties: "effGetParameterProperties",
	EffGetVstVersion:          "effGetVstVersion",
	EffEditKeyDown:            "effEditKeyDown",
	EffEditKeyUp:              "effEditKeyUp",
	EffSetEditKnobMode:        "effSetEditKnobMode",
	EffBeginSetProgram:        "effBeginSetProgram",
	EffEndSetProgram:          "effEndSetProgram",
	EffGetSpeakerArrangement:  "effGetSpeakerArrangement",
	EffShellGetNextPlugin:     "effShellGetNextPlugin",
	EffStartProcess:           "effStartProcess",
	EffStopProcess:            "effStopProcess",
	EffSetProcessPrecision:    "effSetProcessPrecision",
}

var callbackNames = map[int32]string{
	AudioMasterAutomate:               "audioMasterAutomate",
	AudioMasterVersion:                "audioMasterVersion",
	AudioMasterCurrentID:              "audioMasterCurrentId",
	AudioMasterIdle:                   "audioMasterIdle",
	AudioMasterWantMidi:               "audioMasterWantMidi",
	AudioMasterGetTime:                "audioMasterGetTime",
	AudioMasterProcessEvents:          "audioMasterProcessEvents",
	AudioMasterIOChanged:              "audioMasterIOChanged",
	AudioMasterSizeWindow:             "audioMasterSizeWindow",
	AudioMasterGetSampleRate:          "audioMasterGetSampleRate",
	AudioMasterGetBlockSize:           "audioMasterGetBlockSize",
	AudioMasterGetInputLatency:        "audioMasterGetInputLatency",
	AudioMasterGetOutputLatency:       "audioMasterGetOutputLatency",
	AudioMasterGetCurrentProcessLevel: "audioMasterGetCurrentProcessLevel",
	AudioMasterGetAutomationState:     "audioMasterGetAutomationState",
	AudioMasterGetVendorString:        "audioMasterGetVendorString",
	AudioMasterGetProductString:       "audioMasterGetProductString",
	AudioMasterGetVendorVersion:       "audioMasterGetVendorVersion",
	AudioMasterVendorSpecific:         "audioMasterVendorSpecific",
	AudioMasterCanDo:                  "audioMasterCanDo",
	AudioMasterGetLanguage:            "audioMasterGetLanguage",
	AudioMasterUpdateDisplay:          "audioMasterUpdateDisplay",
	AudioMasterBeginEdit:              "audioMasterBeginEdit",
	AudioMasterEndEdit:                "audioMasterEndEdit",
	AudioMasterDeadBeef:               "audioMasterDeadBeef",
}

// OpcodeName returns a readable name for logging.
func OpcodeName(dir Direction, opcode int32) string {
	names := dispatchNames
	if dir == Callback {
		names = callbackNames
	}
	if name, ok := names[opcode]; ok {
		return name
	}
	return fmt.Sprintf("<opcode %d>", opcode)
}
