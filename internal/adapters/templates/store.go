package templates

import (
	"strings"

	"fanpilot/internal/domain"
)

const defaultLanguage = "en"

// Template — заготовка сообщения для типа действия.
type Template struct {
	Subject string
	Body    string
}

// Store хранит заготовки сообщений по языку и типу действия.
// Цепочка выбора: запрошенный язык → язык по умолчанию → сырой ключ.
type Store struct {
	byLanguage map[string]map[domain.ActionType]Template
}

// NewStore создаёт хранилище с заготовками по умолчанию.
func NewStore() *Store {
	return &Store{byLanguage: map[string]map[domain.ActionType]Template{
		"en": {
			domain.ActionBump: {
				Subject: "Missing you, {{fan_name}}!",
				Body:    "Hey {{fan_name}}, it's {{creator}}. I just posted something I think you'll love — come say hi!",
			},
			domain.ActionFlashSale: {
				Subject: "{{discount}}% off, just for you",
				Body:    "{{fan_name}}, for the next {{hours}} hours everything is {{discount}}% off with code {{offer_code}}. Don't sleep on it!",
			},
			domain.ActionReengage: {
				Subject: "It's been a while, {{fan_name}}",
				Body:    "{{fan_name}}, I saved something special for you. Come back and take a look — {{creator}}.",
			},
		},
		"ru": {
			domain.ActionBump: {
				Subject: "Скучаю, {{fan_name}}!",
				Body:    "Привет, {{fan_name}}! Это {{creator}}. Я выложила кое-что новое — загляни!",
			},
			domain.ActionFlashSale: {
				Subject: "Скидка {{discount}}% только для тебя",
				Body:    "{{fan_name}}, ближайшие {{hours}} часов всё со скидкой {{discount}}% по коду {{offer_code}}. Не упусти!",
			},
			domain.ActionReengage: {
				Subject: "Давно не виделись, {{fan_name}}",
				Body:    "{{fan_name}}, я приготовила для тебя кое-что особенное. Возвращайся — {{creator}}.",
			},
		},
		"es": {
			domain.ActionBump: {
				Subject: "¡Te extraño, {{fan_name}}!",
				Body:    "Hola {{fan_name}}, soy {{creator}}. Acabo de publicar algo que te va a encantar.",
			},
			domain.ActionFlashSale: {
				Subject: "{{discount}}% de descuento, solo para ti",
				Body:    "{{fan_name}}, por {{hours}} horas todo con {{discount}}% de descuento con el código {{offer_code}}.",
			},
			domain.ActionReengage: {
				Subject: "Cuánto tiempo, {{fan_name}}",
				Body:    "{{fan_name}}, guardé algo especial para ti. Vuelve a verlo — {{creator}}.",
			},
		},
	}}
}

// Lookup возвращает заготовку для языка и типа действия.
// Если подходящей нет ни в запрошенном языке, ни в языке по умолчанию,
// возвращается сырой ключ, чтобы сбой был виден, а не молчалив.
func (s *Store) Lookup(language string, typ domain.ActionType) Template {
	language = normalizeLanguage(language)
	if byType, ok := s.byLanguage[language]; ok {
		if tpl, ok := byType[typ]; ok {
			return tpl
		}
	}
	if byType, ok := s.byLanguage[defaultLanguage]; ok {
		if tpl, ok := byType[typ]; ok {
			return tpl
		}
	}
	raw := language + "." + string(typ)
	return Template{Subject: raw, Body: raw}
}

// Render подставляет переменные в заготовку.
// Неизвестные плейсхолдеры остаются как есть.
func Render(tpl Template, vars map[string]string) Template {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	replacer := strings.NewReplacer(pairs...)
	return Template{
		Subject: replacer.Replace(tpl.Subject),
		Body:    replacer.Replace(tpl.Body),
	}
}

func normalizeLanguage(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return defaultLanguage
	}
	// ru-RU → ru
	if idx := strings.IndexAny(raw, "-_"); idx > 0 {
		raw = raw[:idx]
	}
	return raw
}
