package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fanpilot/internal/domain"
	openai "fanpilot/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI генерирует персональные сообщения через Chat Completions.
// При любой ошибке генерации молча откатывается на заготовку.
type OpenAI struct {
	client   chatClient
	model    string
	timeout  time.Duration
	fallback domain.PayloadGenerator
}

var _ domain.PayloadGenerator = (*OpenAI)(nil)

// NewOpenAI создаёт генератор с обязательным откатом.
func NewOpenAI(client chatClient, model string, timeout time.Duration, fallback domain.PayloadGenerator) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout, fallback: fallback}
}

type payloadJSON struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

var actionBriefs = map[domain.ActionType]string{
	domain.ActionBump:      "a short friendly check-in message reminding the fan about the creator",
	domain.ActionFlashSale: "a playful limited-time discount announcement that mentions the offer code and deadline",
	domain.ActionReengage:  "a warm re-engagement message for a fan who has gone quiet",
}

// Generate строит полезную нагрузку через LLM с откатом на заготовку.
func (g *OpenAI) Generate(ctx context.Context, req domain.PayloadRequest) (domain.ActionPayload, error) {
	payload, err := g.generate(ctx, req)
	if err != nil {
		return g.fallback.Generate(ctx, req)
	}
	return payload, nil
}

func (g *OpenAI) generate(ctx context.Context, req domain.PayloadRequest) (domain.ActionPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	brief, ok := actionBriefs[req.Type]
	if !ok {
		return domain.ActionPayload{}, fmt.Errorf("unknown action type %q", req.Type)
	}

	var vars strings.Builder
	for key, value := range req.Variables {
		fmt.Fprintf(&vars, "%s: %s\n", key, value)
	}

	userPrompt := fmt.Sprintf(`Write %s.
Language: %s. Fan name: %s. Creator name: %s.
Context:
%s
Return JSON {"subject": "...", "body": "..."} with no extra commentary.
Keep the body under 400 characters.`, brief, req.Language, req.FanName, req.Creator, vars.String())

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.8,
		MaxTokens:   300,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You ghost-write outreach messages for content creators. Match the requested language and stay tasteful.",
			},
			{
				Role:    openai.RoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	})
	if err != nil {
		return domain.ActionPayload{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.ActionPayload{}, fmt.Errorf("openai completion: пустой ответ")
	}

	var parsed payloadJSON
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.ActionPayload{}, fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	body := strings.TrimSpace(parsed.Body)
	if body == "" {
		return domain.ActionPayload{}, fmt.Errorf("ответ LLM без текста")
	}
	return domain.ActionPayload{
		Subject:   strings.TrimSpace(parsed.Subject),
		Body:      body,
		OfferCode: req.Variables["offer_code"],
		Source:    domain.PayloadSourceLLM,
	}, nil
}
