package classify

import (
	"strings"

	"funnel-bot/internal/domain"
)

var intentGuide = map[domain.Intent]string{
	domain.IntentGeneral:         "saludo, charla o mensaje sin objetivo claro",
	domain.IntentLearnFromZero:   "quiere aprender trading desde cero",
	domain.IntentImprove:         "ya opera y quiere mejorar resultados",
	domain.IntentTechnical:       "pregunta técnica de análisis, indicadores o gestión de riesgo",
	domain.IntentPsychology:      "miedo, ansiedad, disciplina o emociones al operar",
	domain.IntentProductInfo:     "pregunta por cursos, mentorías, precios o el libro",
	domain.IntentCourseCompleted: "terminó un curso o el diagnóstico",
	domain.IntentComplaint:       "queja, insatisfacción o reclamo",
	domain.IntentHotLead:         "listo para comprar o pide cómo pagar",
	domain.IntentDelicate:        "situación personal delicada, pérdidas graves o crisis",
	domain.IntentEscalation:      "exige hablar con una persona o está muy molesto",
	domain.IntentBookFunnel:      "interés en el libro sin haber iniciado la compra",
	domain.IntentBookInProgress:  "está en medio de la compra del libro",
	domain.IntentStudentSupport:  "alumno actual pidiendo soporte o acceso",
}

func instructions(language string) string {
	var b strings.Builder
	b.WriteString("Clasificas mensajes de clientes de una academia de trading.\n")
	b.WriteString("Responde SOLO con un objeto JSON con las claves intent, emotion, experience_level y urgency.\n\n")
	b.WriteString("intent debe ser exactamente uno de:\n")
	for _, intent := range domain.Intents {
		b.WriteString("- ")
		b.WriteString(string(intent))
		if guide, ok := intentGuide[intent]; ok {
			b.WriteString(": ")
			b.WriteString(guide)
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nemotion debe ser exactamente uno de: ")
	b.WriteString(joinEmotions())
	b.WriteString("\nexperience_level: cero, intermedio, avanzado o null si no se puede inferir.\n")
	b.WriteString("urgency: baja, media o alta.\n")
	if language != "" {
		b.WriteString("El mensaje está escrito en el idioma '")
		b.WriteString(language)
		b.WriteString("'. Los valores del JSON se mantienen en español.\n")
	}
	return b.String()
}

func joinEmotions() string {
	parts := make([]string, 0, len(domain.Emotions))
	for _, e := range domain.Emotions {
		parts = append(parts, string(e))
	}
	return strings.Join(parts, ", ")
}
