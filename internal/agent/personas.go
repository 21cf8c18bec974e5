package agent

import (
	"fmt"

	"funnel-bot/internal/detect"
	"funnel-bot/internal/domain"
)

const basePersona = "Eres el asistente oficial de una academia de trading por WhatsApp. Respondes con calidez, " +
	"de forma breve (máximo 3 párrafos cortos), sin prometer ganancias ni dar señales de compra o venta. " +
	"Si no sabes algo, lo dices y ofreces hablar con un asesor."

var personas = map[domain.Intent]string{
	domain.IntentGeneral: "Mantén una conversación cordial, identifica qué busca la persona y sugiere el diagnóstico gratuito " +
		"si aún no lo ha hecho.",
	domain.IntentLearnFromZero: "Actúa como mentor paciente para principiantes. Explica conceptos básicos sin jerga, " +
		"propone un primer paso concreto y recomienda el libro como punto de partida.",
	domain.IntentImprove: "Actúa como coach de traders intermedios. Haz una pregunta sobre su operativa actual y " +
		"sugiere mejoras de método, gestión de riesgo o registro de operaciones.",
	domain.IntentTechnical: "Actúa como analista técnico. Responde con precisión, define los términos y aclara que es " +
		"material educativo, no asesoría financiera.",
	domain.IntentPsychology: "Actúa como coach de psicología del trading. Valida la emoción, normaliza la experiencia y " +
		"da una técnica práctica de disciplina o control emocional.",
	domain.IntentProductInfo: "Actúa como asesor comercial honesto. Describe el libro, el combo y la mentoría usando solo " +
		"información del contexto y explica cómo comprar escribiendo \"quiero el libro\".",
	domain.IntentCourseCompleted: "Felicita el logro con entusiasmo, pregunta qué fue lo más útil y sugiere el siguiente " +
		"nivel de formación.",
	domain.IntentComplaint: "Actúa como responsable de atención al cliente. Reconoce el problema sin discutir, pide los " +
		"datos necesarios y ofrece escalarlo a una persona del equipo.",
	domain.IntentHotLead: "La persona está lista para comprar. Confirma el interés, resume el valor en una frase y " +
		"explica que basta con escribir \"quiero el libro\" para iniciar el pago.",
	domain.IntentDelicate: "La persona atraviesa una situación delicada. Prioriza su bienestar, no hables de ventas, " +
		"recomienda pausar la operativa y ofrece contacto con una persona del equipo.",
	domain.IntentBookFunnel: "Presenta el libro y sus beneficios de forma concreta e invita a iniciar la compra " +
		"escribiendo \"quiero el libro\".",
	domain.IntentBookInProgress: "La persona está en medio de la compra. Resuelve sus dudas sobre el pago o la entrega con " +
		"claridad y sin presionar.",
	domain.IntentStudentSupport: "Actúa como soporte para alumnos. Resuelve dudas de acceso o plataforma y, si no puedes, " +
		"indica que un asesor dará seguimiento.",
}

// Lower values for factual intents, higher for open-ended ones.
var temperatures = map[domain.Intent]float64{
	domain.IntentTechnical:       0.3,
	domain.IntentBookInProgress:  0.3,
	domain.IntentStudentSupport:  0.3,
	domain.IntentProductInfo:     0.4,
	domain.IntentComplaint:       0.4,
	domain.IntentDelicate:        0.5,
	domain.IntentHotLead:         0.5,
	domain.IntentBookFunnel:      0.6,
	domain.IntentPsychology:      0.6,
	domain.IntentImprove:         0.6,
	domain.IntentCourseCompleted: 0.7,
	domain.IntentLearnFromZero:   0.7,
	domain.IntentGeneral:         0.8,
}

const defaultTemperature = 0.7

func temperatureFor(intent domain.Intent) float64 {
	if t, ok := temperatures[intent]; ok {
		return t
	}
	return defaultTemperature
}

func personaFor(intent domain.Intent) string {
	if p, ok := personas[intent]; ok {
		return p
	}
	return personas[domain.IntentGeneral]
}

var languageNames = map[string]string{
	detect.LangSpanish:    "español",
	detect.LangEnglish:    "inglés (English)",
	detect.LangPortuguese: "portugués (Português)",
}

func languageDirective(lang string) string {
	name := languageNames[detect.NormalizeLanguage(lang)]
	return fmt.Sprintf("IDIOMA: responde únicamente en %s. No mezcles idiomas ni insertes palabras de otro idioma.", name)
}

var escalationTemplates = map[string][2]string{
	detect.LangSpanish: {
		"Entiendo, %s. Ya avisé a una persona de nuestro equipo para que te atienda directamente. Te escribirán por aquí muy pronto. También puedes contactarnos en %s.",
		"%s, lamento mucho la molestia y entiendo tu frustración. Ya pasé tu caso con prioridad a una persona de nuestro equipo, que te contactará lo antes posible. Si lo prefieres, escríbenos directamente a %s.",
	},
	detect.LangEnglish: {
		"Understood, %s. I've asked a member of our team to assist you directly. They will message you here very soon. You can also reach us at %s.",
		"%s, I'm truly sorry for the trouble and I understand your frustration. I've escalated your case as a priority to a member of our team, who will contact you as soon as possible. You can also write to us directly at %s.",
	},
	detect.LangPortuguese: {
		"Entendi, %s. Já avisei uma pessoa da nossa equipe para te atender diretamente. Vão te escrever por aqui em breve. Você também pode nos contatar em %s.",
		"%s, sinto muito pelo transtorno e entendo sua frustração. Já encaminhei seu caso com prioridade para uma pessoa da nossa equipe, que vai te contatar o mais rápido possível. Se preferir, escreva diretamente para %s.",
	},
}

var fallbackTemplates = map[string]string{
	detect.LangSpanish:    "Lo siento, tuve un problema para responderte en este momento 🙏. Por favor intenta de nuevo en unos minutos o escríbenos a %s para que una persona te ayude.",
	detect.LangEnglish:    "Sorry, I had trouble answering right now 🙏. Please try again in a few minutes or write to %s so a person can help you.",
	detect.LangPortuguese: "Desculpe, tive um problema para responder agora 🙏. Tente novamente em alguns minutos ou escreva para %s para que uma pessoa te ajude.",
}

var defaultNames = map[string]string{
	detect.LangSpanish:    "amigo trader",
	detect.LangEnglish:    "fellow trader",
	detect.LangPortuguese: "amigo trader",
}

func angry(e domain.Emotion) bool {
	return e == domain.EmotionAngry || e == domain.EmotionFrustrated
}
