package intent

import (
	"strings"

	"fanpilot/internal/domain"
)

// KeywordDetector ищет подстроки намерений в последних сообщениях фаната.
// Списки собраны для ru/en/es; детектор заменяем через domain.IntentDetector.
type KeywordDetector struct {
	high   []string
	medium []string
	low    []string
	locked []string
}

var _ domain.IntentDetector = (*KeywordDetector)(nil)

// NewKeywordDetector создаёт детектор со словарями по умолчанию.
func NewKeywordDetector() *KeywordDetector {
	return &KeywordDetector{
		high: []string{
			"хочу купить", "беру", "как оплатить", "куда платить", "оформи",
			"i want to buy", "take my money", "how do i pay", "i'll take it", "buy now",
			"quiero comprar", "como pago", "lo compro",
		},
		medium: []string{
			"сколько стоит", "почём", "есть ещё", "покажи ещё", "what's the price",
			"how much", "do you have more", "show me more", "cuanto cuesta", "hay mas",
		},
		low: []string{
			"дорого", "слишком дорого", "скидк", "подешевле", "бесплатно",
			"too expensive", "discount", "cheaper", "for free",
			"muy caro", "descuento", "gratis",
		},
		locked: []string{
			"закрыт", "разблокир", "что под замком", "locked", "unlock", "ppv",
			"bloqueado", "desbloquear",
		},
	}
}

// Detect возвращает сигнал намерений по сообщениям.
// Каждое ключевое слово учитывается не больше одного раза.
func (d *KeywordDetector) Detect(messages []domain.Message) domain.IntentSignal {
	var signal domain.IntentSignal
	if len(messages) == 0 {
		return signal
	}

	var b strings.Builder
	for _, msg := range messages {
		if !msg.FromFan {
			continue
		}
		b.WriteString(strings.ToLower(msg.Text))
		b.WriteByte('\n')
	}
	text := b.String()
	if text == "" {
		return signal
	}

	signal.HighMatches = matchAll(text, d.high)
	signal.MediumMatches = matchAll(text, d.medium)
	signal.LowMatches = matchAll(text, d.low)
	signal.AskedAboutLocked = len(matchAll(text, d.locked)) > 0
	return signal
}

func matchAll(text string, keywords []string) []string {
	var matched []string
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			matched = append(matched, keyword)
		}
	}
	return matched
}
