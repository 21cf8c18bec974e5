package flow

import (
	"fmt"
	"strings"

	"funnel-bot/internal/detect"
	"funnel-bot/internal/domain"
)

// Catalog holds the purchase details rendered into funnel replies.
type Catalog struct {
	Prices       detect.PriceTable
	PDFURL       string
	ComboURL     string
	PayPalURL    string
	CardURL      string
	BankTransfer string
	Remittance   string
}

// Price returns the advertised price of product, or 0 when unknown.
func (c Catalog) Price(product domain.Product) int64 {
	switch product {
	case domain.ProductPDF:
		return c.Prices.PDF
	case domain.ProductCombo:
		return c.Prices.Combo
	default:
		return 0
	}
}

func productLabel(p domain.Product) string {
	switch p {
	case domain.ProductCombo:
		return "Combo (libro + curso)"
	case domain.ProductPDF:
		return "Libro en PDF"
	default:
		return "libro"
	}
}

func (c Catalog) countryPrompt(p domain.Product) string {
	var b strings.Builder
	if p == domain.ProductNone {
		fmt.Fprintf(&b, "¡Excelente decisión! 📘 Tenemos dos opciones:\n• Libro en PDF: USD %d\n• Combo (libro + curso): USD %d\n\n", c.Prices.PDF, c.Prices.Combo)
	} else {
		fmt.Fprintf(&b, "¡Excelente decisión! 📘 Elegiste: %s (USD %d).\n\n", productLabel(p), c.Price(p))
	}
	b.WriteString("Para mostrarte los métodos de pago disponibles, ¿desde qué país nos escribes?")
	return b.String()
}

const countryRetry = "No logré identificar tu país 🤔. ¿Me lo escribes de nuevo? Por ejemplo: Colombia, México, Perú o España."

func (c Catalog) methodMenu(country string, p domain.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "¡Perfecto! Desde %s puedes pagar con:\n\n", country)
	b.WriteString("1️⃣ PayPal\n")
	b.WriteString("2️⃣ Tarjeta de crédito o débito\n")
	b.WriteString("3️⃣ Transferencia bancaria\n")
	b.WriteString("4️⃣ Western Union / remesa\n\n")
	if p != domain.ProductNone {
		fmt.Fprintf(&b, "Producto: %s, USD %d.\n", productLabel(p), c.Price(p))
	}
	b.WriteString("Responde con el número de la opción que prefieras.")
	return b.String()
}

func (c Catalog) productRetry() string {
	return fmt.Sprintf("Antes de continuar, confírmame qué producto quieres:\n• PDF (USD %d)\n• Combo libro + curso (USD %d)", c.Prices.PDF, c.Prices.Combo)
}

const methodRetry = "Elige una opción del 1 al 4:\n1️⃣ PayPal\n2️⃣ Tarjeta\n3️⃣ Transferencia\n4️⃣ Western Union / remesa"

const dataPrompt = "Genial ✅. Ahora envíame en un solo mensaje tu *nombre completo*, tu *correo electrónico* y tu *WhatsApp con código de país*.\n\nEjemplo: Ana Pérez, ana@correo.com, +57 300 123 4567"

const dataRetry = "Me falta algún dato 🙏. Necesito tu nombre, un correo válido y tu número con código de país, todo en un mismo mensaje."

func (c Catalog) paymentInstructions(m Method, p domain.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "¡Gracias! Registramos tu pedido: %s por USD %d.\n\n", productLabel(p), c.Price(p))
	switch m {
	case MethodPayPal:
		fmt.Fprintf(&b, "Paga con PayPal aquí: %s", orPending(c.PayPalURL))
	case MethodCard:
		fmt.Fprintf(&b, "Paga con tarjeta en este enlace seguro: %s", orPending(c.CardURL))
	case MethodBank:
		fmt.Fprintf(&b, "Datos para la transferencia:\n%s", orPending(c.BankTransfer))
	case MethodRemittance:
		fmt.Fprintf(&b, "Datos para el envío por remesa:\n%s", orPending(c.Remittance))
	}
	b.WriteString("\n\nCuando completes el pago, envíame aquí la foto o captura del comprobante 📸.")
	return b.String()
}

func orPending(s string) string {
	if strings.TrimSpace(s) == "" {
		return "un asesor te compartirá los datos en breve."
	}
	return s
}

const proofRetry = "Todavía no recibo el comprobante. Envíame la foto o el enlace de la captura del pago 📸."

const proofNoOrder = "No encuentro un pedido abierto a tu nombre. ¿Me envías de nuevo tu nombre, correo y WhatsApp para registrarlo?"

const proofReceived = "¡Recibimos tu comprobante! 🙌 Nuestro equipo lo está verificando. Te avisaremos por aquí y por correo en cuanto se apruebe."

const stillVerifying = "Tu pago sigue en verificación ⏳. Apenas se confirme te enviaremos el acceso por correo. ¡Gracias por tu paciencia!"

func (c Catalog) delivered(p domain.Product) string {
	var b strings.Builder
	b.WriteString("🎉 ¡Tu pago fue aprobado! Ya enviamos el acceso a tu correo.\n")
	url := c.PDFURL
	if p == domain.ProductCombo && c.ComboURL != "" {
		url = c.ComboURL
	}
	if url != "" {
		fmt.Fprintf(&b, "También puedes descargarlo aquí: %s\n", url)
	}
	b.WriteString("Gracias por confiar en nosotros. ¡Éxitos en tu camino como trader! 📈")
	return b.String()
}

func newOrderNotice(subscriberID string, c Contact, country string, m Method, p domain.Product, amount int64) string {
	return fmt.Sprintf("🛒 Nuevo pedido\nSuscriptor: %s\nNombre: %s\nEmail: %s\nTel: %s\nPaís: %s\nMétodo: %s\nProducto: %s (USD %d)",
		subscriberID, c.Name, c.Email, c.Phone, country, m, productLabel(p), amount)
}

func proofNotice(subscriberID, orderID, ref string) string {
	return fmt.Sprintf("🧾 Comprobante recibido\nSuscriptor: %s\nPedido: %s\nComprobante: %s", subscriberID, orderID, ref)
}
