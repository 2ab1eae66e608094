package generator

import (
	"context"
	"maps"

	"fanpilot/internal/adapters/templates"
	"fanpilot/internal/domain"
)

// Static строит полезную нагрузку действия из заготовок.
type Static struct {
	store *templates.Store
}

var _ domain.PayloadGenerator = (*Static)(nil)

// NewStatic создаёт генератор на заготовках.
func NewStatic(store *templates.Store) *Static {
	return &Static{store: store}
}

// Generate подставляет переменные запроса в заготовку.
func (s *Static) Generate(_ context.Context, req domain.PayloadRequest) (domain.ActionPayload, error) {
	tpl := s.store.Lookup(req.Language, req.Type)
	rendered := templates.Render(tpl, payloadVars(req))
	return domain.ActionPayload{
		Subject:   rendered.Subject,
		Body:      rendered.Body,
		OfferCode: req.Variables["offer_code"],
		Source:    domain.PayloadSourceTemplate,
	}, nil
}

func payloadVars(req domain.PayloadRequest) map[string]string {
	vars := map[string]string{
		"fan_name": req.FanName,
		"creator":  req.Creator,
	}
	maps.Copy(vars, req.Variables)
	return vars
}
