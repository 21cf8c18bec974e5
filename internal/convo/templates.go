package convo

import (
	"fmt"
	"strings"

	"funnel-bot/internal/detect"
)

// Analytics event kinds written outside the classified path.
const (
	EventPostDiagnostic = "POST_DIAGNOSTICO"
	EventPostPayment    = "POST_PAGO"
	EventPaidSession    = "SESION_PAGADA"
	EventRateLimited    = "RATE_LIMITED"
	eventFlowPrefix     = "FLOW_"
)

func postDiagnosticReply(name, discountCode string, validityDays int, prices detect.PriceTable) string {
	var b strings.Builder
	fmt.Fprintf(&b, "¡Felicidades, %s! 🎯 Completaste tu diagnóstico de trader.\n\n", name)
	b.WriteString("Con base en tus resultados, el siguiente paso ideal es nuestro libro, donde está el método completo paso a paso.\n\n")
	fmt.Fprintf(&b, "🎁 Tu código de descuento: *%s* (30%% de descuento, válido por %d días).\n", discountCode, validityDays)
	if prices.PDF > 0 {
		fmt.Fprintf(&b, "Libro en PDF: USD %d · Combo libro + curso: USD %d\n", prices.PDF, prices.Combo)
	}
	b.WriteString("\nEscribe *quiero el libro* y te guío con el pago.")
	return b.String()
}

func postPaymentReply(name, code string) string {
	return fmt.Sprintf("¡Gracias, %s! 🙌 Recibimos tu código de pago *%s*. Nuestro equipo está validando la transacción y en breve recibirás el acceso por aquí y por correo.", name, code)
}

func paymentNotice(subscriberID, name, phone, code string) string {
	return fmt.Sprintf("💳 Código de pago recibido\nSuscriptor: %s\nNombre: %s\nTel: %s\nCódigo: %s", subscriberID, name, orDash(phone), code)
}

func paidSessionReply(url string) string {
	var b strings.Builder
	b.WriteString("¡Qué bueno que quieras una sesión privada! 👨‍🏫\n\n")
	b.WriteString("Es una sesión 1 a 1 de 60 minutos con un mentor de la academia para revisar tu operativa y armar tu plan de trading.\n\n")
	if url != "" {
		fmt.Fprintf(&b, "Puedes ver horarios y pagar aquí: %s\n\n", url)
	}
	b.WriteString("Para reservar, envíame tu *nombre* y tu *WhatsApp con código de país*.\nEjemplo: nombre: Ana Pérez, whatsapp: +57 300 123 4567")
	return b.String()
}

func paidSessionConfirmed(name string) string {
	return fmt.Sprintf("¡Listo, %s! ✅ Recibimos tus datos. Un mentor te escribirá para coordinar el horario de tu sesión.", name)
}

func paidSessionNotice(subscriberID, name, phone string) string {
	return fmt.Sprintf("📅 Solicitud de sesión pagada\nSuscriptor: %s\nNombre: %s\nTel: %s", subscriberID, name, phone)
}

func escalationNotice(subscriberID, name, intent, emotion, message string) string {
	return fmt.Sprintf("🚨 Atención humana requerida\nSuscriptor: %s\nNombre: %s\nIntención: %s\nEmoción: %s\nMensaje: %s", subscriberID, orDash(name), intent, emotion, message)
}

var rateLimitReplies = map[string]string{
	detect.LangSpanish:    "Has alcanzado el límite de mensajes de hoy 🙏. Mañana podré seguir ayudándote. Si es urgente, escribe a %s.",
	detect.LangEnglish:    "You've reached today's message limit 🙏. I'll be able to help you again tomorrow. If it's urgent, write to %s.",
	detect.LangPortuguese: "Você atingiu o limite de mensagens de hoje 🙏. Amanhã poderei continuar te ajudando. Se for urgente, escreva para %s.",
}

func rateLimitReply(lang, contact string) string {
	return fmt.Sprintf(rateLimitReplies[detect.NormalizeLanguage(lang)], contact)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
