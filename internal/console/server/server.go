package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/IdanMittelpunkt/UAPES/internal/console/handler"
	"github.com/IdanMittelpunkt/UAPES/internal/infra"
	"github.com/IdanMittelpunkt/UAPES/internal/infra/auth"
)

type Server struct {
	router  *chi.Mux
	logger  *zap.Logger
	cfg     *infra.Config
	metrics *Metrics

	// Проверка RS256 токенов платформы
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	policyHandler       *handler.PolicyHandler       // /v1/policies
	ruleHandler         *handler.RuleHandler         // /v1/rules
	distributionHandler *handler.DistributionHandler // /v1/rules/distribute

	// Реестр метрик, отдаваемый на /metrics
	registry *prometheus.Registry
}

// NewServer собирает HTTP-сервер со всеми зависимостями.
func NewServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	registry *prometheus.Registry,
	policyH *handler.PolicyHandler,
	ruleH *handler.RuleHandler,
	distH *handler.DistributionHandler,
) *Server {
	s := &Server{
		router:              chi.NewRouter(),
		logger:              logger.Named("api"),
		cfg:                 cfg,
		metrics:             NewMetrics(registry),
		authValidator:       validator,
		policyHandler:       policyH,
		ruleHandler:         ruleH,
		distributionHandler: distH,
		registry:            registry,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.metrics.instrument)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

		// Вызовы планировщика идут изнутри периметра без JWT
		r.Post("/v1/rules/distribute", s.distributionHandler.Run)
		r.Get("/v1/rules/distribute", s.distributionHandler.Run)
		r.Post("/v1/rules/distribute/mark", s.distributionHandler.Mark)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требует RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Управление политиками
		r.Route("/v1/policies", func(r chi.Router) {
			r.Post("/", s.policyHandler.Create)
			r.Get("/", s.policyHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.policyHandler.Get)
				r.Delete("/", s.policyHandler.Delete)
			})
		})

		// Правила как самостоятельная выдача (развернутые по одному).
		// Маршруты заданы плоско: /v1/rules/distribute зарегистрирован
		// выше как статический и имеет приоритет над /v1/rules/{id}.
		r.Get("/v1/rules", s.ruleHandler.List)
		r.Get("/v1/rules/{id}", s.ruleHandler.Get)
		r.Patch("/v1/rules/{id}", s.ruleHandler.Update)
		r.Delete("/v1/rules/{id}", s.ruleHandler.Delete)
	})
}

// requestLogger пишет одну структурированную строку на запрос.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
