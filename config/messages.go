package config

// Spoken fallback sentences sent to the avatar when a response cannot be
// generated. Keyed by language code with an English fallback.

var errorMessages = map[string]string{
	"en": "I'm sorry, I encountered an error. Please try again.",
	"es": "Lo siento, he encontrado un error. Por favor, inténtalo de nuevo.",
	"fr": "Je suis désolé, j'ai rencontré une erreur. Veuillez réessayer.",
	"de": "Es tut mir leid, ein Fehler ist aufgetreten. Bitte versuchen Sie es erneut.",
	"it": "Mi dispiace, si è verificato un errore. Per favore riprova.",
	"pt": "Desculpe, encontrei um erro. Por favor, tente novamente.",
	"pl": "Przepraszam, wystąpił błąd. Spróbuj ponownie.",
	"tr": "Üzgünüm, bir hatayla karşılaştım. Lütfen tekrar deneyin.",
	"ru": "Извините, произошла ошибка. Пожалуйста, попробуйте ещё раз.",
	"nl": "Het spijt me, er is een fout opgetreden. Probeer het opnieuw.",
	"cs": "Omlouvám se, došlo k chybě. Zkuste to prosím znovu.",
	"ja": "申し訳ありません、エラーが発生しました。もう一度お試しください。",
	"hu": "Sajnálom, hiba történt. Kérlek, próbáld újra.",
	"ko": "죄송합니다, 오류가 발생했습니다. 다시 시도해 주세요.",
	"hi": "क्षमा करें, एक त्रुटि हुई। कृपया पुनः प्रयास करें।",
}

var timeoutMessages = map[string]string{
	"en": "I'm sorry, I'm taking too long to respond. Please try again.",
	"es": "Lo siento, estoy tardando demasiado en responder. Por favor, inténtalo de nuevo.",
	"fr": "Je suis désolé, je mets trop de temps à répondre. Veuillez réessayer.",
	"de": "Es tut mir leid, ich brauche zu lange für eine Antwort. Bitte versuchen Sie es erneut.",
	"it": "Mi dispiace, sto impiegando troppo tempo a rispondere. Per favore riprova.",
	"pt": "Desculpe, estou demorando demais para responder. Por favor, tente novamente.",
	"pl": "Przepraszam, odpowiedź zajmuje mi zbyt dużo czasu. Spróbuj ponownie.",
	"tr": "Üzgünüm, yanıt vermem çok uzun sürüyor. Lütfen tekrar deneyin.",
	"ru": "Извините, ответ занимает слишком много времени. Пожалуйста, попробуйте ещё раз.",
	"nl": "Het spijt me, mijn antwoord duurt te lang. Probeer het opnieuw.",
	"cs": "Omlouvám se, odpověď mi trvá příliš dlouho. Zkuste to prosím znovu.",
	"ja": "申し訳ありません、応答に時間がかかりすぎています。もう一度お試しください。",
	"hu": "Sajnálom, túl sokáig tart a válaszom. Kérlek, próbáld újra.",
	"ko": "죄송합니다, 응답이 너무 오래 걸리고 있습니다. 다시 시도해 주세요.",
	"hi": "क्षमा करें, जवाब देने में बहुत समय लग रहा है। कृपया पुनः प्रयास करें।",
}

// ErrorMessage returns the localized generation-failure sentence.
func ErrorMessage(languageCode string) string {
	if msg, ok := errorMessages[languageCode]; ok {
		return msg
	}
	return errorMessages["en"]
}

// TimeoutMessage returns the localized generation-timeout sentence.
func TimeoutMessage(languageCode string) string {
	if msg, ok := timeoutMessages[languageCode]; ok {
		return msg
	}
	return timeoutMessages["en"]
}
