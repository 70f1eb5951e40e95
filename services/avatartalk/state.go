package avatartalk

// State mirrors the avatar service's synthesis pipeline state machine.
type State string

const (
	StateInitial          State = "initial"
	StateSilence          State = "silence"
	StateSilenceToPregen  State = "silence_to_pregen"
	StatePregenVideo      State = "pregen_video"
	StatePregenToDynamic  State = "pregen_to_dynamic"
	StateDynamicSpeech    State = "dynamic_speech"
	StateDynamicToSilence State = "dynamic_to_silence"
	StateTerminated       State = "terminated"
)

// IsThinking reports whether the avatar is in a pre-generation phase,
// shown to the user as "thinking".
func (s State) IsThinking() bool {
	switch s {
	case StateSilenceToPregen, StatePregenVideo, StatePregenToDynamic:
		return true
	}
	return false
}

// IsSpeaking reports whether the avatar is rendering dynamic speech.
func (s State) IsSpeaking() bool {
	switch s {
	case StateDynamicSpeech, StateDynamicToSilence:
		return true
	}
	return false
}
