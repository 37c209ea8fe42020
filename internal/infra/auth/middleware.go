package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/IdanMittelpunkt/UAPES/internal/domain"
)

// TokenValidator — контракт проверки токена для HTTP-слоя.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

type contextKey struct{}

var identityKey contextKey

// IdentityFromContext возвращает идентичность, положенную middleware.
// Второе значение false означает, что запрос прошел мимо middleware.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey).(domain.Identity)
	return id, ok
}

// WithIdentity кладет идентичность в контекст в обход middleware.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// NewMiddleware проверяет заголовок Authorization и кладет проверенную
// идентичность в контекст запроса. Отсутствующий заголовок и невалидный
// токен различимы: 401 против 403.
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			identity := domain.Identity{
				TenantID: claims.TenantID,
				Email:    claims.Subject,
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
