package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/IdanMittelpunkt/UAPES/internal/distribution"
)

// DistributionHandler обслуживает вызовы планировщика. Маршруты не
// требуют JWT: планировщик живет внутри периметра, а сами операции
// не принимают данных арендаторов.
type DistributionHandler struct {
	engine *distribution.Engine
	logger *zap.Logger
}

func NewDistributionHandler(e *distribution.Engine, logger *zap.Logger) *DistributionHandler {
	return &DistributionHandler{engine: e, logger: logger.Named("distribution_handler")}
}

// runTimeout ограничивает фоновый прогон, оторванный от контекста запроса.
const runTimeout = 2 * time.Minute

// Run запускает прогон дистрибуции и сразу отвечает планировщику.
// Прогон работает в фоне: его исход логируется, но наружу не уходит,
// планировщик все равно придет снова. Принимает и POST, и GET —
// планировщик исходной системы дергал endpoint обоими методами.
// POST|GET /v1/rules/distribute
func (h *DistributionHandler) Run(w http.ResponseWriter, r *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()

		report, err := h.engine.Run(ctx)
		switch {
		case errors.Is(err, distribution.ErrRunInProgress):
			h.logger.Info("distribution run skipped, lease held elsewhere")
		case err != nil:
			h.logger.Error("distribution run failed", zap.Error(err))
		default:
			h.logger.Info("distribution run finished",
				zap.Int("candidates", report.Candidates),
				zap.Time("watermark", report.Watermark),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// markRequest — тело запроса пометки групп.
type markRequest struct {
	GroupIDs []string `json:"group_ids"`
}

// Mark помечает правила с target.scope=group и target.id из списка к
// принудительной дистрибуции. Список принимается либо в query
// (?group_ids=a,b,c), либо JSON-телом {"group_ids": [...]}.
// POST /v1/rules/distribute/mark
func (h *DistributionHandler) Mark(w http.ResponseWriter, r *http.Request) {
	groupIDs := splitCSV(r.URL.Query().Get("group_ids"))

	if len(groupIDs) == 0 && r.Body != nil {
		var req markRequest
		// Пустое тело не ошибка, список мог прийти в query
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			groupIDs = req.GroupIDs
		}
	}

	marked, err := h.engine.MarkGroups(r.Context(), groupIDs)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"marked": marked})
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
