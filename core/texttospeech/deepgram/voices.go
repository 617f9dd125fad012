package deepgram

type deepgramVoice string

const (
	VoiceAuraAsteria deepgramVoice = "aura-2-asteria-en"
	VoiceAuraThalia  deepgramVoice = "aura-2-thalia-en"
	VoiceAuraOrion   deepgramVoice = "aura-2-orion-en"
	VoiceAuraHelena  deepgramVoice = "aura-2-helena-en"
	VoiceAuraOdysseus deepgramVoice = "aura-2-odysseus-en"
)

const defaultVoice = VoiceAuraAsteria

func GetAvailableVoices() []deepgramVoice {
	return []deepgramVoice{
		VoiceAuraAsteria,
		VoiceAuraThalia,
		VoiceAuraOrion,
		VoiceAuraHelena,
		VoiceAuraOdysseus,
	}
}
