// Package locale holds the user-facing message catalogue. Every message that
// crosses the transport boundary is looked up here.
package locale

import (
	"golang.org/x/text/language"
)

// Message keys.
const (
	Busy           = "busy"
	Failure        = "failure"
	RateLimited    = "rate_limited"
	InvalidRequest = "invalid_request"
	StreamError    = "stream_error"
	HistoryHeader  = "history_header"
	HistoryUser    = "history_user"
	HistoryAssist  = "history_assistant"
	Emergency      = "emergency"
	SelfHarm       = "self_harm"
	Violence       = "violence"
	SexualMinors   = "sexual_minors"
	Illegal        = "illegal"
	MedicalAdvice  = "medical_advice"
	ReviewerPrompt = "reviewer_prompt"
	ChatSystem     = "chat_system"
	AnswerIn       = "answer_in"
	ProfileHeader  = "profile_header"
	PriorResult    = "prior_result"
	FallbackReport = "fallback_report"
	FallbackAdvice = "fallback_advice"
	FallbackTip    = "fallback_tip"
)

var supported = []language.Tag{
	language.English, // first entry is the fallback
	language.Spanish,
}

var matcher = language.NewMatcher(supported)

var catalogue = map[string]map[string]string{
	"en": {
		Busy:           "Our assistant is handling a lot of requests right now. Please try again in a couple of minutes.",
		Failure:        "Something went wrong while preparing your answer. Please try again.",
		RateLimited:    "You have sent too many requests. Please wait a little before trying again.",
		InvalidRequest: "The request could not be understood.",
		StreamError:    "The answer was interrupted. Please try again.",
		HistoryHeader:  "Recent conversation:",
		HistoryUser:    "User",
		HistoryAssist:  "Assistant",
		Emergency:      "This sounds like an emergency. Please call your local emergency number (911 in the US) or go to the nearest emergency room right away.",
		SelfHarm:       "I'm really sorry you're feeling this way. You are not alone. Please reach out to someone you trust or call or text 988 (Suicide & Crisis Lifeline, US) now.",
		Violence:       "I can't help with anything that could hurt someone. If anyone is in danger, please contact local emergency services.",
		SexualMinors:   "I can't help with that request.",
		Illegal:        "I can't help with that request.",
		MedicalAdvice:  "I can share general eye-health information, but I can't diagnose conditions or prescribe treatment. Please see an eye care professional for a proper exam.",
		ReviewerPrompt: "You are a strict reviewer of an eye-health assistant's draft reply. If the draft is correct, safe and sufficient, reply with exactly PASS and nothing else. Otherwise reply only with the corrected answer for the user.",
		ChatSystem: "You are a friendly eye-health assistant inside a vision-screening app. " +
			"Give clear, practical, general information. Never diagnose or prescribe. " +
			"Answer in English.",
		AnswerIn:       "Write every text field in English.",
		ProfileHeader:  "About the user:",
		PriorResult:    "Most recent screening result:",
		FallbackReport: "Your results were saved. A detailed summary is not available right now.",
		FallbackAdvice: "Keep up regular eye exams and check again if anything changes.",
		FallbackTip:    "Every 20 minutes, look at something 20 feet away for 20 seconds.",
	},
	"es": {
		Busy:           "Nuestro asistente está atendiendo muchas solicitudes en este momento. Inténtalo de nuevo en un par de minutos.",
		Failure:        "Algo salió mal al preparar tu respuesta. Inténtalo de nuevo.",
		RateLimited:    "Has enviado demasiadas solicitudes. Espera un poco antes de volver a intentarlo.",
		InvalidRequest: "No se pudo entender la solicitud.",
		StreamError:    "La respuesta se interrumpió. Inténtalo de nuevo.",
		HistoryHeader:  "Conversación reciente:",
		HistoryUser:    "Usuario",
		HistoryAssist:  "Asistente",
		Emergency:      "Esto parece una emergencia. Llama de inmediato al número de emergencias local o acude a la sala de urgencias más cercana.",
		SelfHarm:       "Siento mucho que te sientas así. No estás solo. Habla ahora con alguien de confianza o llama a la línea de crisis de tu país.",
		Violence:       "No puedo ayudar con nada que pueda hacer daño a alguien. Si alguien está en peligro, contacta a los servicios de emergencia.",
		SexualMinors:   "No puedo ayudar con esa solicitud.",
		Illegal:        "No puedo ayudar con esa solicitud.",
		MedicalAdvice:  "Puedo compartir información general sobre salud visual, pero no puedo diagnosticar ni recetar tratamientos. Consulta a un profesional de la visión.",
		ReviewerPrompt: "Eres un revisor estricto del borrador de un asistente de salud visual. Si el borrador es correcto, seguro y suficiente, responde exactamente PASS y nada más. De lo contrario, responde solo con la respuesta corregida para el usuario.",
		ChatSystem: "Eres un asistente amable de salud visual dentro de una aplicación de evaluación de la vista. " +
			"Da información general, clara y práctica. Nunca diagnostiques ni recetes. " +
			"Responde en español.",
		AnswerIn:       "Escribe todos los campos de texto en español.",
		ProfileHeader:  "Sobre el usuario:",
		PriorResult:    "Resultado de evaluación más reciente:",
		FallbackReport: "Tus resultados se guardaron. El resumen detallado no está disponible en este momento.",
		FallbackAdvice: "Mantén tus exámenes visuales periódicos y vuelve a evaluarte si notas algún cambio.",
		FallbackTip:    "Cada 20 minutos, mira algo a 6 metros de distancia durante 20 segundos.",
	},
}

// Normalize maps an arbitrary locale string to a supported base language
// code. Unknown or malformed input yields "en".
func Normalize(locale string) string {
	if locale == "" {
		return "en"
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return "en"
	}
	_, idx, _ := matcher.Match(tag)
	base, _ := supported[idx].Base()
	return base.String()
}

// T returns the message for key in locale, falling back to English.
func T(locale, key string) string {
	if msg, ok := catalogue[Normalize(locale)][key]; ok {
		return msg
	}
	return catalogue["en"][key]
}
