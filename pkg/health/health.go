package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// CheckFunc функция проверки зависимости (БД, Redis, брокер)
type CheckFunc func(ctx context.Context) error

// HealthChecker интерфейс для проверки здоровья сервиса
type HealthChecker interface {
	Check(ctx context.Context) *HealthStatus
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]Status `json:"services,omitempty"`
	Version   string            `json:"version,omitempty"`
}

// Status представляет статус зависимости
type Status struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// CompositeHealthChecker проверяет зарегистрированные зависимости
type CompositeHealthChecker struct {
	version string
	checks  map[string]CheckFunc
}

// NewCompositeHealthChecker создает новый CompositeHealthChecker
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		version: version,
		checks:  make(map[string]CheckFunc),
	}
}

// Register регистрирует проверку зависимости под заданным именем
func (c *CompositeHealthChecker) Register(name string, check CheckFunc) {
	c.checks[name] = check
}

// Check проверяет здоровье сервиса и всех зависимостей
func (c *CompositeHealthChecker) Check(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   c.version,
		Services:  make(map[string]Status),
	}

	for name, check := range c.checks {
		if err := check(ctx); err != nil {
			status.Status = "degraded"
			status.Services[name] = Status{Status: "unhealthy", Details: err.Error()}
		} else {
			status.Services[name] = Status{Status: "healthy"}
		}
	}

	return status
}

// Handler создает HTTP обработчик для health check эндпоинта
func Handler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := checker.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if status.Status == "healthy" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		// Отправляем JSON ответ
		json.NewEncoder(w).Encode(status)
	}
}

// LiveHandler создает HTTP обработчик для live check эндпоинта
// Возвращает 200 если сервис жив
func LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := map[string]string{
			"status": "alive",
		}
		json.NewEncoder(w).Encode(response)
	}
}
