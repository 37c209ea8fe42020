package domain

import "fmt"

// Таксономия ошибок сервиса. Слои сервисов и хранилища возвращают
// типизированные ошибки, а единственный транслятор на HTTP-границе
// превращает их в коды статусов, не раскрывая внутренних деталей.

// ValidationError — вход не соответствует схеме или выходит за диапазон (400).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// UnauthorizedError — учетные данные отсутствуют или искажены (401).
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s", e.Reason)
}

// ForbiddenError — учетные данные валидны, но объект принадлежит
// другому арендатору (403). Принципиально отличим от NotFoundError.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// NotFoundError — объекта с таким идентификатором не существует (404).
type NotFoundError struct {
	Kind string // "policy" | "rule" | "state"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConflictError — операция нарушила бы инвариант хранимого состояния,
// например удаление последнего правила политики (409).
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// StoreError — инфраструктурный сбой хранилища (500). Логируется,
// автоматически не ретраится вызывающим.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// StoreTimeoutError — хранилище не уложилось в дедлайн контекста.
// Отделен от StoreError, чтобы не путать таймаут с отсутствием объекта.
type StoreTimeoutError struct {
	Op    string
	Cause error
}

func (e *StoreTimeoutError) Error() string {
	return fmt.Sprintf("store timeout: %s: %v", e.Op, e.Cause)
}

func (e *StoreTimeoutError) Unwrap() error { return e.Cause }
