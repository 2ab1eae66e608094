package actions

import (
	"context"
	"fmt"

	"fanpilot/internal/domain"
)

// Точки входа жизненного цикла фаната. Все проверки пригодности
// выполняет обычное планирование, триггеры только выбирают тип.

// OnFanOnline отмечает визит и планирует напоминание.
func (s *Service) OnFanOnline(ctx context.Context, creatorID, fanID string) (domain.ScheduleResult, error) {
	if err := s.profiles.TouchLastSeen(ctx, creatorID, fanID, s.now().UTC()); err != nil {
		return domain.ScheduleResult{}, fmt.Errorf("отметка визита: %w", err)
	}
	return s.Schedule(ctx, creatorID, fanID, domain.ActionBump)
}

// OnFanOffline планирует кампанию возврата.
func (s *Service) OnFanOffline(ctx context.Context, creatorID, fanID string) (domain.ScheduleResult, error) {
	if err := s.profiles.TouchLastSeen(ctx, creatorID, fanID, s.now().UTC()); err != nil {
		return domain.ScheduleResult{}, fmt.Errorf("отметка визита: %w", err)
	}
	return s.Schedule(ctx, creatorID, fanID, domain.ActionReengage)
}

// PublishReport — итог обхода фанатов после публикации контента.
type PublishReport struct {
	Scheduled int
	Skipped   int
}

// OnContentPublished обходит фанатов автора и планирует напоминания
// о новом контенте. Непригодные отлетают штатными пропусками.
func (s *Service) OnContentPublished(ctx context.Context, creatorID string, fanLimit int) (PublishReport, error) {
	if creatorID == "" {
		return PublishReport{}, fmt.Errorf("%w: creator id is required", domain.ErrValidation)
	}
	if fanLimit <= 0 {
		fanLimit = s.limit
	}
	profiles, err := s.profiles.ListLeastRecentlyScored(ctx, creatorID, fanLimit)
	if err != nil {
		return PublishReport{}, fmt.Errorf("выборка фанатов автора: %w", err)
	}

	var report PublishReport
	for _, profile := range profiles {
		result, err := s.Schedule(ctx, creatorID, profile.FanID, domain.ActionBump)
		if err != nil {
			s.log.Error().Err(err).Str("creator", creatorID).Str("fan", profile.FanID).Msg("actions: планирование по публикации не удалось")
			continue
		}
		if result.Scheduled {
			report.Scheduled++
		} else {
			report.Skipped++
		}
	}
	return report, nil
}

// OnMessageReceived сохраняет сообщение и для входящих от фаната
// сразу оценивает пригодность флеш-распродажи.
func (s *Service) OnMessageReceived(ctx context.Context, msg domain.Message) (domain.ScheduleResult, error) {
	if msg.CreatorID == "" || msg.FanID == "" {
		return domain.ScheduleResult{}, fmt.Errorf("%w: creator and fan ids are required", domain.ErrValidation)
	}
	if _, err := s.messages.AppendMessage(ctx, msg); err != nil {
		return domain.ScheduleResult{}, fmt.Errorf("сохранение сообщения: %w", err)
	}
	if !msg.FromFan {
		return domain.ScheduleResult{}, nil
	}
	if err := s.profiles.TouchLastSeen(ctx, msg.CreatorID, msg.FanID, s.now().UTC()); err != nil {
		return domain.ScheduleResult{}, fmt.Errorf("отметка визита: %w", err)
	}
	return s.Schedule(ctx, msg.CreatorID, msg.FanID, domain.ActionFlashSale)
}
