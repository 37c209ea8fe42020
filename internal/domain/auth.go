package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims — полезная нагрузка платформенного JWT (RS256).
// tenant отсутствует у платформенного администратора.
type CustomClaims struct {
	TenantID int `json:"tenant,omitempty"`
	jwt.RegisteredClaims
}

// Identity — проверенная идентичность вызывающего, извлеченная из токена.
// Email берется из стандартного claim sub.
type Identity struct {
	TenantID int    // 0 — платформенный администратор
	Email    string
}

// Scope — явная привязка запроса к арендатору. Строится один раз из
// Identity, передается во все функции построения запросов и после
// конструирования не изменяется. TenantID == 0 не ограничивает выборку
// (платформенный доступ).
type Scope struct {
	TenantID int
}

// Scope возвращает скоуп арендатора для данной идентичности.
func (i Identity) Scope() Scope {
	return Scope{TenantID: i.TenantID}
}

// Restricted сообщает, ограничен ли скоуп конкретным арендатором.
func (s Scope) Restricted() bool {
	return s.TenantID > 0
}
