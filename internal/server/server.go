package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schoolbus-labs/busreserve/internal/config"
	"github.com/schoolbus-labs/busreserve/internal/metrics"
	"github.com/schoolbus-labs/busreserve/internal/model"
	"github.com/schoolbus-labs/busreserve/internal/service"
	"github.com/schoolbus-labs/busreserve/internal/storage"
)

// Deps are the services the HTTP layer is wired to.
type Deps struct {
	Auth           *service.AuthService
	Gate           *service.GateService
	Routes         *service.RouteService
	Bookings       *service.BookingService
	Subscriptions  *service.SubscriptionService
	Dispatcher     *service.Dispatcher
	Logs           *service.DispatchLogService
	Metrics        *metrics.Metrics
	VAPIDPublicKey string
}

// Server wires HTTP handlers.
type Server struct {
	app  *fiber.App
	deps Deps
	cfg  *config.Config
}

// New builds a server instance.
func New(cfg *config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		IdleTimeout:  cfg.HTTP.ReadTimeout,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		AppName:      "busreserve",
	})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New())

	s := &Server{app: app, deps: deps, cfg: cfg}
	s.registerRoutes()
	return s
}

// App exposes the fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens and serves HTTP traffic.
func (s *Server) Start() error {
	return s.app.Listen(s.cfg.HTTP.Addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.handleHealth)
	if s.cfg.Metrics.Enabled && s.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.deps.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	s.app.Post("/auth/login", s.handleLogin)
	s.app.Get("/auth/profile", s.handleProfile)

	api := s.app.Group("/api")

	api.Get("/reservation/status", s.handleReservationStatus)
	api.Post("/reservation/update", s.requireAuth, s.handleReservationUpdate)

	api.Get("/routes", s.handleListRoutes)
	api.Get("/routes/:route_id", s.handleGetRoute)
	api.Post("/routes", s.requireAuth, s.handleCreateRoute)
	api.Put("/routes/:route_id", s.requireAuth, s.handleUpdateRoute)
	api.Delete("/routes/:route_id", s.requireAuth, s.handleDeleteRoute)
	api.Post("/routes/:route_id/toggle", s.requireAuth, s.handleToggleRoute)

	api.Post("/push/subscribe", s.handleSubscribe)
	api.Post("/push/unsubscribe", s.handleUnsubscribe)
	api.Get("/push/vapid-public-key", s.handleVAPIDPublicKey)
	api.Post("/push/test", s.requireAuth, s.handlePushTest)
	api.Get("/push/debug/:student_id", s.requireAuth, s.handlePushDebug)

	api.Post("/bookings", s.handleCreateBooking)
	api.Get("/bookings/user/:student_id", s.handleListBookings)
	api.Delete("/bookings/:id", s.handleCancelBooking)

	logGroup := api.Group("/dispatch/log", s.requireAuth)
	logGroup.Get("/list", s.handleLogList)
	logGroup.Get("/count/date", s.handleLogCountDate)
	logGroup.Get("/count/status", s.handleLogCountStatus)
	logGroup.Get("/count/tag", s.handleLogCountTag)

	admin := api.Group("/admin", s.requireAuth)
	admin.Get("/summary", s.handleAdminSummary)
	admin.Get("/subscriptions", s.handleAdminSubscriptions)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{"status": "ok"}
	if s.deps.Gate != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()
		if _, err := s.deps.Gate.Status(ctx); err != nil {
			resp["storage"] = fiber.Map{"status": "degraded", "error": err.Error()}
		} else {
			resp["storage"] = fiber.Map{"status": "up"}
		}
	}
	resp["push"] = fiber.Map{"configured": s.deps.VAPIDPublicKey != ""}
	return c.Status(http.StatusOK).JSON(resp)
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	if !s.deps.Auth.Enabled() {
		return c.JSON(model.Success("login not required", fiber.Map{
			"token":    "",
			"enabled":  false,
			"username": "guest",
		}))
	}
	token, err := s.deps.Auth.Authenticate(req.Username, req.Password)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Unauthorized(err.Error()))
	}
	return c.JSON(model.Success("login succeeded", fiber.Map{
		"token":    token,
		"enabled":  true,
		"username": s.deps.Auth.Username(),
	}))
}

func (s *Server) handleProfile(c *fiber.Ctx) error {
	if !s.deps.Auth.Enabled() {
		return c.JSON(model.Success("ok", fiber.Map{
			"enabled":  false,
			"username": "guest",
		}))
	}
	token := extractBearerToken(c.Get("Authorization"))
	if token == "" {
		return c.Status(http.StatusUnauthorized).JSON(model.Unauthorized("not logged in"))
	}
	claims, err := s.deps.Auth.Validate(token)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Unauthorized("session expired"))
	}
	return c.JSON(model.Success("ok", fiber.Map{
		"enabled":  true,
		"username": claims.Username,
	}))
}

func (s *Server) requireAuth(c *fiber.Ctx) error {
	if !s.deps.Auth.Enabled() {
		return c.Next()
	}
	token := extractBearerToken(c.Get("Authorization"))
	if token == "" {
		return c.Status(http.StatusUnauthorized).JSON(model.Unauthorized("not logged in"))
	}
	claims, err := s.deps.Auth.Validate(token)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Unauthorized("session expired"))
	}
	c.Locals("username", claims.Username)
	return c.Next()
}

func (s *Server) fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

// failErr maps service and storage errors onto HTTP status codes.
func (s *Server) failErr(c *fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrReservationClosed):
		status = http.StatusForbidden
	case errors.Is(err, storage.ErrConflict),
		errors.Is(err, service.ErrRouteOpen),
		errors.Is(err, service.ErrSoldOut),
		errors.Is(err, service.ErrAlreadyCancelled):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	return s.fail(c, status, err.Error())
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseLogFilter(c *fiber.Ctx) model.DispatchLogFilter {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("pageSize", "10"))
	begin, end := parseTimeRange(c)
	return model.DispatchLogFilter{
		SubscriberID: c.Query("studentId"),
		DispatchID:   c.Query("dispatchId"),
		Status:       c.Query("status"),
		BeginTime:    begin,
		EndTime:      end,
		Page:         page,
		PageSize:     pageSize,
	}
}

func parseTimeRange(c *fiber.Ctx) (*time.Time, *time.Time) {
	begin := parseTime(c.Query("beginTime"))
	end := parseTime(c.Query("endTime"))
	return begin, end
}

func parseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
