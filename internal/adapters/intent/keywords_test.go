package intent

import (
	"testing"

	"fanpilot/internal/domain"
)

func fanMsg(text string) domain.Message {
	return domain.Message{FromFan: true, Text: text}
}

func TestDetectHighAndLocked(t *testing.T) {
	detector := NewKeywordDetector()
	signal := detector.Detect([]domain.Message{
		fanMsg("Хочу купить то видео, что под замком"),
		fanMsg("how do I pay?"),
	})
	if len(signal.HighMatches) != 2 {
		t.Fatalf("ожидали 2 сильных совпадения, получили %v", signal.HighMatches)
	}
	if !signal.AskedAboutLocked {
		t.Fatalf("ожидали вопрос о закрытом контенте")
	}
}

func TestDetectPriceSensitivity(t *testing.T) {
	detector := NewKeywordDetector()
	signal := detector.Detect([]domain.Message{
		fanMsg("Слишком дорого, будет скидка?"),
		fanMsg("muy caro"),
	})
	if len(signal.HighMatches) != 0 {
		t.Fatalf("не ожидали сильных сигналов: %v", signal.HighMatches)
	}
	if len(signal.LowMatches) < 2 {
		t.Fatalf("ожидали сигналы чувствительности к цене, получили %v", signal.LowMatches)
	}
}

func TestDetectIgnoresCreatorMessages(t *testing.T) {
	detector := NewKeywordDetector()
	signal := detector.Detect([]domain.Message{
		{FromFan: false, Text: "хочу купить тебе подарок"},
	})
	if len(signal.HighMatches) != 0 {
		t.Fatalf("сообщения автора не должны учитываться: %v", signal.HighMatches)
	}
}

func TestDetectDeduplicatesKeyword(t *testing.T) {
	detector := NewKeywordDetector()
	signal := detector.Detect([]domain.Message{
		fanMsg("дорого"),
		fanMsg("непомерно дорого"),
	})
	count := 0
	for _, k := range signal.LowMatches {
		if k == "дорого" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("ключевое слово должно учитываться один раз, получили %d", count)
	}
}
