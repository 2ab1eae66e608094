package templates

import (
	"strings"
	"testing"

	"fanpilot/internal/domain"
)

func TestLookupRequestedLanguage(t *testing.T) {
	store := NewStore()
	tpl := store.Lookup("ru-RU", domain.ActionBump)
	if !strings.Contains(tpl.Body, "Привет") {
		t.Fatalf("ожидали русскую заготовку, получили %q", tpl.Body)
	}
}

func TestLookupFallsBackToDefault(t *testing.T) {
	store := NewStore()
	tpl := store.Lookup("de", domain.ActionFlashSale)
	if !strings.Contains(tpl.Body, "{{offer_code}}") {
		t.Fatalf("ожидали английскую заготовку по умолчанию, получили %q", tpl.Body)
	}
}

func TestLookupUnknownTypeReturnsRawKey(t *testing.T) {
	store := NewStore()
	tpl := store.Lookup("en", domain.ActionType("unknown"))
	if tpl.Body != "en.unknown" {
		t.Fatalf("ожидали сырой ключ, получили %q", tpl.Body)
	}
}

func TestRenderSubstitutesVariables(t *testing.T) {
	tpl := Template{Subject: "Hi {{fan_name}}", Body: "Code {{offer_code}}, {{unknown}} stays"}
	out := Render(tpl, map[string]string{"fan_name": "Alex", "offer_code": "SALE30"})
	if out.Subject != "Hi Alex" {
		t.Fatalf("подстановка в тему не сработала: %q", out.Subject)
	}
	if out.Body != "Code SALE30, {{unknown}} stays" {
		t.Fatalf("неизвестный плейсхолдер должен остаться: %q", out.Body)
	}
}
