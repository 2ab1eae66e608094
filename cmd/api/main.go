package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"fanpilot/internal/adapters/mailer"
	"fanpilot/internal/adapters/repo"
	"fanpilot/internal/app"
	"fanpilot/internal/domain"
	"fanpilot/internal/infra/cache"
	"fanpilot/internal/infra/config"
	"fanpilot/internal/infra/db"
	httpinfra "fanpilot/internal/infra/http"
	loginfra "fanpilot/internal/infra/log"
	"fanpilot/internal/infra/metrics"
	"fanpilot/internal/usecase/actions"
	"fanpilot/internal/usecase/entitlement"
	"fanpilot/internal/usecase/ledger"
	"fanpilot/internal/usecase/scoring"
)

const eventDedupeTTL = 10 * time.Minute

func main() {
	cfg := config.Load()
	logger := loginfra.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	dedupe := cache.NewRedis(redisClient)

	events, err := app.NewEventQueue(cfg, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("api: не удалось подключить очередь событий")
	}

	repoAdapter := repo.NewPostgres(pool)
	mailClient, err := mailer.New(cfg.Mailer.BaseURL, cfg.Mailer.APIKey, mailer.WithTimeout(cfg.Mailer.Timeout))
	if err != nil {
		log.Fatal().Err(err).Msg("api: не удалось создать почтовый шлюз")
	}
	payloadGen := app.BuildGenerator(cfg)

	scoringService := scoring.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, app.NewIntentDetector())
	ledgerService := ledger.NewService(repoAdapter, cfg.Credits.ExpiryDays, logger.With().Str("component", "ledger").Logger())
	entitlementService := entitlement.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, cfg.Credits.DefaultUnlockPrice)
	engine := actions.NewService(
		repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter,
		mailClient, app.BuildStrategies(cfg, payloadGen), app.OfferTerms(cfg),
		cfg.Sweeps.ProcessLimit,
		logger.With().Str("component", "actions").Logger(),
	)

	server := httpinfra.NewServer(logger)
	server.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(httpinfra.APIKeyMiddleware(cfg.APIKey))

		r.Route("/creators/{creatorID}/fans/{fanID}", func(r chi.Router) {
			r.Get("/score", func(w http.ResponseWriter, r *http.Request) {
				score, err := repoAdapter.GetScore(r.Context(), chi.URLParam(r, "creatorID"), chi.URLParam(r, "fanID"))
				if err != nil {
					writeDomainError(w, err)
					return
				}
				writeJSON(w, score)
			})

			r.Get("/score/factors", func(w http.ResponseWriter, r *http.Request) {
				score, err := repoAdapter.GetScore(r.Context(), chi.URLParam(r, "creatorID"), chi.URLParam(r, "fanID"))
				if err != nil {
					writeDomainError(w, err)
					return
				}
				writeJSON(w, map[string]any{"overall": score.Overall, "factors": score.Factors})
			})

			r.Post("/score/recompute", func(w http.ResponseWriter, r *http.Request) {
				score, err := scoringService.Recompute(r.Context(), chi.URLParam(r, "creatorID"), chi.URLParam(r, "fanID"))
				if err != nil {
					writeDomainError(w, err)
					return
				}
				writeJSON(w, score)
			})

			r.Get("/balance", func(w http.ResponseWriter, r *http.Request) {
				account, err := ledgerService.Balance(r.Context(), chi.URLParam(r, "creatorID"), chi.URLParam(r, "fanID"))
				if err != nil {
					writeDomainError(w, err)
					return
				}
				writeJSON(w, account)
			})

			r.Get("/transactions", func(w http.ResponseWriter, r *http.Request) {
				limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
				txns, err := ledgerService.History(r.Context(), chi.URLParam(r, "creatorID"), chi.URLParam(r, "fanID"), limit)
				if err != nil {
					writeDomainError(w, err)
					return
				}
				writeJSON(w, map[string]any{"transactions": txns})
			})

			r.Post("/grant", func(w http.ResponseWriter, r *http.Request) {
				var req creditRequest
				if !decodeBody(w, r, &req) {
					return
				}
				txn, err := ledgerService.Grant(r.Context(), chi.URLParam(r, "creatorID"), chi.URLParam(r, "fanID"),
					req.Amount, domain.TransactionType(req.Type), ledger.Meta{Description: req.Description})
				if err != nil {
					writeDomainError(w, err)
					return
				}
				writeJSON(w, txn)
			})

			r.Post("/spend", func(w http.ResponseWriter, r *http.Request) {
				var req creditRequest
				if !decodeBody(w, r, &req) {
					return
				}
				txn, err := ledgerService.Spend(r.Context(), chi.URLParam(r, "creatorID"), chi.URLParam(r, "fanID"),
					req.Amount, domain.TransactionType(req.Type), ledger.Meta{Description: req.Description})
				if err != nil {
					writeDomainError(w, err)
					return
				}
				writeJSON(w, txn)
			})
		})

		r.Route("/creators/{creatorID}/media", func(r chi.Router) {
			r.Get("/{mediaID}/access", func(w http.ResponseWriter, r *http.Request) {
				identity := entitlement.Identity{FanID: r.URL.Query().Get("fan_id")}
				decision, err := entitlementService.CanAccess(r.Context(), chi.URLParam(r, "creatorID"), chi.URLParam(r, "mediaID"), identity)
				if err != nil {
					writeDomainError(w, err)
					return
				}
				writeJSON(w, decision)
			})

			r.Post("/access", func(w http.ResponseWriter, r *http.Request) {
				var req batchAccessRequest
				if !decodeBody(w, r, &req) {
					return
				}
				decisions, err := entitlementService.CanAccessBatch(r.Context(), chi.URLParam(r, "creatorID"),
					req.MediaIDs, entitlement.Identity{FanID: req.FanID})
				if err != nil {
					writeDomainError(w, err)
					return
				}
				writeJSON(w, map[string]any{"decisions": decisions})
			})

			r.Put("/catalog", func(w http.ResponseWriter, r *http.Request) {
				var req catalogRequest
				if !decodeBody(w, r, &req) {
					return
				}
				if len(req.Items) == 0 {
					writeError(w, http.StatusUnprocessableEntity, "items are required")
					return
				}
				items := make([]domain.MediaItem, 0, len(req.Items))
				for _, item := range req.Items {
					if item.ID == "" {
						writeError(w, http.StatusUnprocessableEntity, "media id is required")
						return
					}
					items = append(items, domain.MediaItem{
						ID:          item.ID,
						IsFree:      item.IsFree,
						IsVIP:       item.IsVIP,
						IsPPV:       item.IsPPV,
						UnlockPrice: item.UnlockPrice,
					})
				}
				if err := repoAdapter.SaveMedia(r.Context(), chi.URLParam(r, "creatorID"), items); err != nil {
					writeDomainError(w, err)
					return
				}
				writeJSON(w, map[string]any{"saved": len(items)})
			})

			r.Post("/{mediaID}/unlock", func(w http.ResponseWriter, r *http.Request) {
				var req unlockRequest
				if !decodeBody(w, r, &req) {
					return
				}
				result, err := entitlementService.Unlock(r.Context(), chi.URLParam(r, "creatorID"), chi.URLParam(r, "mediaID"),
					entitlement.Identity{FanID: req.FanID}, req.OfferCode)
				if err != nil {
					writeDomainError(w, err)
					return
				}
				writeJSON(w, result)
			})
		})

		r.Get("/creators/{creatorID}/offers/stats", func(w http.ResponseWriter, r *http.Request) {
			stats, err := engine.Stats(r.Context(), chi.URLParam(r, "creatorID"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, stats)
		})

		r.Post("/offers/redeem", func(w http.ResponseWriter, r *http.Request) {
			var req redeemRequest
			if !decodeBody(w, r, &req) {
				return
			}
			offer, err := engine.Redeem(r.Context(), req.Code, req.FanID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, offer)
		})

		r.Post("/actions/{actionID}/opened", func(w http.ResponseWriter, r *http.Request) {
			if err := engine.MarkOpened(r.Context(), chi.URLParam(r, "actionID")); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, map[string]string{"status": "ok"})
		})

		r.Post("/actions/{actionID}/clicked", func(w http.ResponseWriter, r *http.Request) {
			if err := engine.MarkClicked(r.Context(), chi.URLParam(r, "actionID")); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, map[string]string{"status": "ok"})
		})

		r.Post("/events", func(w http.ResponseWriter, r *http.Request) {
			var event domain.LifecycleEvent
			if !decodeBody(w, r, &event) {
				return
			}
			if event.Kind == "" || event.CreatorID == "" {
				writeError(w, http.StatusUnprocessableEntity, "kind and creator_id are required")
				return
			}
			if event.OccurredAt.IsZero() {
				event.OccurredAt = time.Now().UTC()
			}

			enqueue := func() error { return events.Enqueue(r.Context(), event) }
			var err error
			if event.ID != "" {
				err = dedupe.Once(fmt.Sprintf("event:%s", event.ID), eventDedupeTTL, enqueue)
			} else {
				err = enqueue()
			}
			if err != nil {
				log.Error().Err(err).Str("kind", string(event.Kind)).Msg("api: событие не попало в очередь")
				writeError(w, http.StatusBadGateway, "failed to enqueue event")
				return
			}
			w.WriteHeader(http.StatusAccepted)
			writeJSON(w, map[string]string{"status": "accepted"})
		})
	})

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("api: HTTP сервер упал")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api: некорректное завершение HTTP сервера")
	}
}

type creditRequest struct {
	Amount      int64  `json:"amount"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

type batchAccessRequest struct {
	FanID    string   `json:"fan_id,omitempty"`
	MediaIDs []string `json:"media_ids"`
}

type catalogRequest struct {
	Items []catalogItem `json:"items"`
}

type catalogItem struct {
	ID          string `json:"id"`
	IsFree      bool   `json:"is_free"`
	IsVIP       bool   `json:"is_vip"`
	IsPPV       bool   `json:"is_ppv"`
	UnlockPrice int64  `json:"unlock_price,omitempty"`
}

type unlockRequest struct {
	FanID     string `json:"fan_id"`
	OfferCode string `json:"offer_code,omitempty"`
}

type redeemRequest struct {
	Code  string `json:"code"`
	FanID string `json:"fan_id"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("api: не удалось сериализовать ответ")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError переводит таксономию ошибок в HTTP-статусы.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrFanNotFound),
		errors.Is(err, domain.ErrMediaNotFound),
		errors.Is(err, domain.ErrActionNotFound),
		errors.Is(err, domain.ErrScoreNotFound),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrOfferNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrOfferNotActive),
		errors.Is(err, domain.ErrOfferWrongOwner),
		errors.Is(err, domain.ErrOfferExpired):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("api: внутренняя ошибка")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
