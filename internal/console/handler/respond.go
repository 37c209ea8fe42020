package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

// errorBody — единый формат тела ошибки. Наружу уходит только причина
// уровня API, внутренние детали хранилища остаются в логах.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	// Тело уже начали писать, клиенту достанется обрыв потока
	_ = json.NewEncoder(w).Encode(v)
}

// respondError — единственная точка трансляции доменных ошибок в коды
// HTTP. Обработчики не знают о кодах статусов, сервисы не знают о HTTP.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		validationErr *domain.ValidationError
		unauthErr     *domain.UnauthorizedError
		forbiddenErr  *domain.ForbiddenError
		notFoundErr   *domain.NotFoundError
		conflictErr   *domain.ConflictError
		timeoutErr    *domain.StoreTimeoutError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: validationErr.Error()})
	case errors.As(err, &unauthErr):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	case errors.As(err, &forbiddenErr):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
	case errors.As(err, &notFoundErr):
		writeJSON(w, http.StatusNotFound, errorBody{Error: notFoundErr.Error()})
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, errorBody{Error: conflictErr.Error()})
	case errors.As(err, &timeoutErr):
		logger.Error("storage timeout", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "storage timeout"})
	default:
		logger.Error("internal error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
