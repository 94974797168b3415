package conversation

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/TicketPipe/internal/catalog"
	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/session"
)

// User-facing texts. The bot speaks Spanish.
const (
	msgFollowUp       = "¿En qué más puedo ayudarte?"
	msgAIFallback     = "Lo siento, estoy experimentando dificultades técnicas en este momento. ¿Hay algo más en lo que pueda ayudarte?"
	msgWizardBroken   = "Lo siento, hubo un problema con el proceso de creación del ticket. ¿Puedes intentarlo de nuevo?"
	msgTicketIntent   = "Parece que necesitas ayuda con un problema. Me gustaría crear un ticket de soporte para que nuestro equipo pueda asistirte."
	msgCountryList    = " Para comenzar, por favor selecciona el país donde se encuentra el proyecto de la lista que aparece a continuación."
	msgCountryPrompt  = "Para crear un ticket de soporte, primero necesito saber en qué país se encuentra el proyecto. Por favor, selecciona una opción de la lista que aparece a continuación."
	msgOtherCountry   = "Entendido. Por favor, describe el problema en detalle incluyendo el país donde se encuentra el proyecto."
	msgBadCountryList = "Lo siento, no pude identificar el país seleccionado. Por favor, selecciona un país de la lista enviada anteriormente."
	msgBadCountryText = "Lo siento, no pude identificar el país mencionado. Por favor, asegúrate de escribir el nombre correctamente o selecciona de la lista enviada anteriormente."
	msgEmailRequired  = "Gracias por la descripción. Por favor, proporciona tu correo electrónico para que podamos dar seguimiento a tu caso. Es un dato necesario para procesar tu solicitud."
	msgEmailOptional  = "Gracias por la descripción. Para poder dar seguimiento a tu caso, ¿podrías proporcionarme tu correo electrónico? O responde 'omitir' si prefieres no compartirlo."
	msgBadEmail       = "El formato del correo electrónico no parece válido. Por favor, ingresa un correo electrónico válido (ejemplo: nombre@dominio.com)."
	msgSerialPrompt   = "Gracias por proporcionar tu correo electrónico. ¿Podrías indicar el número de serie del equipo? Si no lo tienes disponible o no aplica, responde 'omitir'."
	msgSegmentPrompt  = "Gracias. Por favor, selecciona el segmento de mercado del proyecto de la lista que aparece a continuación."
	msgBadSegmentList = "Lo siento, no pude identificar el segmento seleccionado. Por favor, selecciona un segmento de la lista enviada anteriormente."
	msgTicketCanceled = "Ticket cancelado. ¿En qué más puedo ayudarte?"

	listFooter = "Operadores Nacionales - Soporte"
)

const msgDescriptionPrompt = "Por favor, describe el problema en detalle."

func welcomeMessage(name string) string {
	return fmt.Sprintf("¡Hola %s! Bienvenido a Operadores Nacionales. ¿En qué puedo ayudarte hoy?", name)
}

func farewellMessage(name string) string {
	return fmt.Sprintf("Gracias por contactarnos, %s. Tu sesión ha sido finalizada. "+
		"Si necesitas ayuda adicional en el futuro, no dudes en escribirnos nuevamente. ¡Que tengas un excelente día!", name)
}

func selectionMessage(title string) string {
	return fmt.Sprintf("Has seleccionado: %s. ¿En qué puedo ayudarte?", title)
}

// typeNames maps unsupported message types to the word used in replies.
var typeNames = map[models.MessageType]string{
	models.MessageTypeImage:    "imagen",
	models.MessageTypeAudio:    "mensaje de voz",
	models.MessageTypeDocument: "documento",
	models.MessageTypeVideo:    "video",
	models.MessageTypeLocation: "ubicación",
}

func typeName(t models.MessageType) string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "mensaje"
}

func unsupportedMessage(t models.MessageType) string {
	return fmt.Sprintf("He recibido tu %s, pero actualmente no puedo procesar este tipo de contenido. "+
		"¿Podrías describir tu consulta en un mensaje de texto?", typeName(t))
}

// placeholder is the history entry recorded for content the router cannot read.
func placeholder(t models.MessageType) string {
	return "[" + strings.ToUpper(typeName(t)) + "]"
}

func selectionPlaceholder(title string) string {
	return "[Seleccionó: " + title + "]"
}

// stepSelectionMessage answers a list tap at a step that expects text.
func stepSelectionMessage(title, prompt string) string {
	return fmt.Sprintf("Has seleccionado: %s, pero en este paso necesito una respuesta escrita. %s", title, prompt)
}

func countryAcceptedMessage(name string, bySelection bool) string {
	if bySelection {
		return fmt.Sprintf("Gracias por seleccionar %s. Por favor, describe el problema en detalle.", name)
	}
	return fmt.Sprintf("Gracias por indicar %s. Por favor, describe el problema en detalle.", name)
}

func badSegmentTextMessage(cat *catalog.Catalog) string {
	return "Lo siento, no pude identificar el segmento mencionado. Por favor, selecciona una de estas opciones: " +
		strings.Join(cat.SegmentNames(), ", ") + "."
}

func countryList(cat *catalog.Catalog) *models.ListMessage {
	return &models.ListMessage{
		Header: "Selección de país",
		Body:   "Por favor selecciona el país donde se encuentra el proyecto:",
		Footer: listFooter,
		Button: "Ver países",
		Sections: []models.ListSection{
			{Title: "Países disponibles", Rows: cat.CountryRows()},
		},
	}
}

func segmentList(cat *catalog.Catalog) *models.ListMessage {
	return &models.ListMessage{
		Header: "Selección de segmento",
		Body:   "Por favor selecciona el segmento de mercado del proyecto:",
		Footer: listFooter,
		Button: "Ver segmentos",
		Sections: []models.ListSection{
			{Title: "Segmentos disponibles", Rows: cat.SegmentRows()},
		},
	}
}

// countryFallback is sent when the country list cannot be delivered.
func countryFallback(cat *catalog.Catalog) string {
	return "Por favor, indica el país del proyecto (" + joinOr(cat.CountryNames()) + "):"
}

// segmentFallback is sent when the segment list cannot be delivered.
func segmentFallback(cat *catalog.Catalog) string {
	var b strings.Builder
	b.WriteString("Por favor, indica el segmento de mercado del proyecto seleccionando una de estas opciones:\n")
	for i, name := range cat.SegmentNames() {
		fmt.Fprintf(&b, "\n%d) %s", i+1, name)
	}
	return b.String()
}

// joinOr renders "a, b, c u d".
func joinOr(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " u " + items[len(items)-1]
}

func confirmationMessage(d *session.TicketDraft) string {
	country := d.CountryName
	if country == "" {
		country = "No especificado"
	}
	email := d.Email
	if email == "" {
		email = "No proporcionado"
	}
	serial := d.SerialNo
	if serial == "" {
		serial = "No proporcionado"
	}
	return "Por favor, confirma los detalles del ticket:\n\n" +
		"*Asunto:* " + d.Subject + "\n" +
		"*Descripción:* " + d.Description + "\n" +
		"*País:* " + country + "\n" +
		"*Email:* " + email + "\n" +
		"*No. de Serie:* " + serial + "\n" +
		"*Segmento:* " + d.SegmentName + "\n\n" +
		"¿Deseas crear este ticket con esta información? (responde 'sí' o 'no')"
}

func ticketCreatedMessage(id string) string {
	return fmt.Sprintf("¡Ticket #%s creado con éxito! Un miembro de nuestro equipo de soporte se pondrá en contacto contigo pronto. "+
		"¿Necesitas ayuda con algo más? (responde 'sí' o 'no')", id)
}

// ticketFailedMessage explains a failed submission with a hint derived from
// the error text.
func ticketFailedMessage(err error) string {
	text := err.Error()
	lower := strings.ToLower(text)
	hint := ""
	switch {
	case strings.Contains(lower, "webhook") || strings.Contains(text, "URL"):
		hint = "No se pudo contactar al servidor de tickets. "
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		hint = "El servidor de tickets tardó demasiado en responder. "
	case strings.Contains(text, "500"):
		hint = "Hubo un problema interno en el servidor de tickets. "
	}
	return "Lo siento, hubo un problema al crear el ticket. " + hint +
		"Hemos registrado este error y lo revisaremos pronto. " +
		"Por favor, intenta de nuevo más tarde o contacta directamente con nuestro equipo de soporte al teléfono principal."
}
