// Package httpapi is the thin Fiber-based control surface over every
// component: one route group per public operation named in spec.md
// §4, JSON in/out, JWT-gated admin routes. It holds no business logic
// of its own — every handler decodes a request, calls a component
// method, and shapes the result.
package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/google/uuid"

	"github.com/HamiGames/Lucid-sub000/internal/config"
	"github.com/HamiGames/Lucid-sub000/internal/coreerr"
	"github.com/HamiGames/Lucid-sub000/internal/credits"
	"github.com/HamiGames/Lucid-sub000/internal/flags"
	"github.com/HamiGames/Lucid-sub000/internal/governance"
	"github.com/HamiGames/Lucid-sub000/internal/payout"
	"github.com/HamiGames/Lucid-sub000/internal/peer"
	"github.com/HamiGames/Lucid-sub000/internal/pool"
	"github.com/HamiGames/Lucid-sub000/internal/poot"
	"github.com/HamiGames/Lucid-sub000/internal/registration"
	"github.com/HamiGames/Lucid-sub000/internal/shard"
	"github.com/HamiGames/Lucid-sub000/internal/sync"
)

// ErrorResponse is the JSON shape of every failed request.
type ErrorResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Error       string `json:"error,omitempty"`
	StatusCode  int    `json:"status_code,omitempty"`
	Path        string `json:"path,omitempty"`
	Method      string `json:"method,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	ErrorType   string `json:"error_type,omitempty"`
}

// SuccessResponse is the JSON shape of every successful request.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Server bundles every component engine the control surface dispatches
// to, plus the config needed for JWT verification.
type Server struct {
	Cfg          *config.Config
	Peers        *peer.Directory
	Credits      *credits.Engine
	PoOT         *poot.Engine
	Flags        *flags.Engine
	Governance   *governance.Engine
	Pool         *pool.Engine
	Registration *registration.Engine
	Shard        *shard.Engine
	Sync         *sync.Engine
	Payout       *payout.Engine
}

// New builds a Fiber app wired with every route group and the shared
// error handler.
func New(s *Server) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
	})

	app.Get("/swagger/*", swagger.HandlerDefault)

	api := app.Group("/api/v1")
	api.Get("/health", HealthCheck)

	s.registerPeerRoutes(api)
	s.registerCreditsRoutes(api)
	s.registerPoOTRoutes(api)
	s.registerFlagsRoutes(api)
	s.registerGovernanceRoutes(api)
	s.registerPoolRoutes(api)
	s.registerRegistrationRoutes(api)
	s.registerShardRoutes(api)
	s.registerSyncRoutes(api)
	s.registerPayoutRoutes(api)

	return app
}

// HealthCheck reports the daemon is serving.
func HealthCheck(c *fiber.Ctx) error {
	return c.JSON(SuccessResponse{Success: true, Message: "node-coordination plane is up", Data: fiber.Map{"status": "healthy"}})
}

// ErrorHandler maps a coreerr.Error's Kind to an HTTP status code,
// following the teacher's status-code-then-typed-body shape in
// api/api.go's ErrorHandler.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	errorType := "InternalServerError"

	var fe *fiber.Error
	var ce *coreerr.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		errorType = "FiberError"
	case errors.As(err, &ce):
		switch ce.Kind {
		case coreerr.KindValidation:
			code, errorType = fiber.StatusBadRequest, "Validation"
		case coreerr.KindPrecondition:
			code, errorType = fiber.StatusConflict, "Precondition"
		case coreerr.KindTransient:
			code, errorType = fiber.StatusServiceUnavailable, "Transient"
		case coreerr.KindIntegrity:
			code, errorType = fiber.StatusUnprocessableEntity, "Integrity"
		case coreerr.KindFatal:
			code, errorType = fiber.StatusInternalServerError, "Fatal"
		}
	}

	requestID := c.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return c.Status(code).JSON(ErrorResponse{
		Success:    false,
		Message:    "request failed",
		Error:      err.Error(),
		StatusCode: code,
		Path:       c.Path(),
		Method:     c.Method(),
		RequestID:  requestID,
		Timestamp:  time.Now().Format(time.RFC3339),
		ErrorType:  errorType,
	})
}

func ok(c *fiber.Ctx, status int, message string, data interface{}) error {
	return c.Status(status).JSON(SuccessResponse{Success: true, Message: message, Data: data})
}
