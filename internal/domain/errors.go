package domain

import "errors"

var (
	// ErrInsufficientFunds возвращается, когда на счёте недостаточно кредитов.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound возвращается, когда счёт пары фанат+автор не найден.
	ErrAccountNotFound = errors.New("account not found")

	// ErrFanNotFound возвращается, когда профиль фаната не найден.
	ErrFanNotFound = errors.New("fan not found")

	// ErrMediaNotFound возвращается, когда контент не найден.
	ErrMediaNotFound = errors.New("media not found")

	// ErrActionNotFound возвращается, когда действие не найдено.
	ErrActionNotFound = errors.New("action not found")

	// ErrScoreNotFound возвращается, когда оценка ещё не рассчитана.
	ErrScoreNotFound = errors.New("lead score not found")

	// ErrConversationNotFound возвращается, когда активный диалог пары не найден.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrOfferNotFound возвращается, когда код предложения не найден.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrOfferNotActive возвращается при попытке погасить уже использованное предложение.
	ErrOfferNotActive = errors.New("offer is not active")

	// ErrOfferWrongOwner возвращается, когда предложение принадлежит другому фанату.
	ErrOfferWrongOwner = errors.New("offer belongs to another fan")

	// ErrOfferExpired возвращается при погашении просроченного предложения.
	ErrOfferExpired = errors.New("offer expired")

	// ErrConflict возвращается, когда действие уже покинуло ожидаемое состояние.
	ErrConflict = errors.New("state conflict")

	// ErrValidation возвращается до любых мутаций при некорректных аргументах.
	ErrValidation = errors.New("validation failed")
)
