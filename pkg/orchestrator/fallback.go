package orchestrator

// FallbackMessage returns a short, speakable apology in the given
// language for when a provider fails fatally mid-turn and the only
// thing left to do is tell the user something went wrong. Generalizes
// the CLI's single hard-coded Spanish system prompt into a table
// covering every supported Language.
func FallbackMessage(lang Language) string {
	if msg, ok := fallbackMessages[lang]; ok {
		return msg
	}
	return fallbackMessages[LanguageEn]
}

var fallbackMessages = map[Language]string{
	LanguageEn: "Sorry, I ran into a problem. Could you say that again?",
	LanguageEs: "Lo siento, tuve un problema. ¿Puedes repetirlo?",
	LanguageFr: "Désolé, j'ai rencontré un problème. Pouvez-vous répéter ?",
	LanguageDe: "Entschuldigung, da ist etwas schiefgelaufen. Kannst du das wiederholen?",
	LanguageIt: "Scusa, ho avuto un problema. Puoi ripetere?",
	LanguagePt: "Desculpe, tive um problema. Pode repetir?",
	LanguageJa: "すみません、問題が発生しました。もう一度言っていただけますか?",
	LanguageZh: "抱歉,我遇到了问题。你能再说一遍吗?",
}

// DefaultSystemPrompt returns the default voice-assistant persona prompt
// for lang, generalizing the CLI's single hard-coded Spanish/English
// system prompt into the same per-Language table idiom as FallbackMessage.
func DefaultSystemPrompt(lang Language) string {
	if msg, ok := systemPrompts[lang]; ok {
		return msg
	}
	return systemPrompts[LanguageEn]
}

var systemPrompts = map[Language]string{
	LanguageEn: "You are a helpful and concise voice assistant. Use short sentences suitable for speech.",
	LanguageEs: "Eres un asistente de voz útil y conciso. Usa frases cortas adecuadas para el habla.",
	LanguageFr: "Vous êtes un assistant vocal utile et concis. Utilisez des phrases courtes adaptées à la parole.",
	LanguageDe: "Du bist ein hilfreicher und prägnanter Sprachassistent. Verwende kurze, für die Sprache geeignete Sätze.",
	LanguageIt: "Sei un assistente vocale utile e conciso. Usa frasi brevi adatte al parlato.",
	LanguagePt: "Você é um assistente de voz útil e conciso. Use frases curtas adequadas para a fala.",
	LanguageJa: "あなたは親切で簡潔な音声アシスタントです。話し言葉に適した短い文を使ってください。",
	LanguageZh: "你是一个乐于助人、言简意赅的语音助手。请使用适合口语的简短句子。",
}
