// Package api exposes the local control plane: device status, room
// membership commands and the transition journal, served over HTTP.
package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/watchroom/watchroom/pkg/api"
	"github.com/watchroom/watchroom/pkg/device"
	"github.com/watchroom/watchroom/pkg/logger"
	"github.com/watchroom/watchroom/pkg/model"
	"github.com/watchroom/watchroom/pkg/storage"
)

// ApiServer is the HTTP control server using Fiber
type ApiServer struct {
	app        *fiber.App
	api        fiber.Router
	controller device.Controller
	journal    *storage.JournalRepository
	version    string
	logger     *logger.Logger

	// baseCtx outlives individual requests; room joins started over HTTP
	// must not die with the request.
	baseCtx context.Context
}

// New creates the control server for one device controller. The journal is
// optional; without it the transitions route reports an empty history.
func New(ctx context.Context, ctrl device.Controller, journal *storage.JournalRepository, version string, log *logger.Logger) *ApiServer {
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	s := &ApiServer{
		app:        app,
		controller: ctrl,
		journal:    journal,
		version:    version,
		logger:     log.Child("api"),
		baseCtx:    ctx,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *ApiServer) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(fiberlogger.New())
}

func (s *ApiServer) setupRoutes() {
	s.api = s.app.Group("/api")

	s.api.Get("/status", s.handleStatus)
	s.api.Post("/room/join", s.handleJoin)
	s.api.Post("/room/leave", s.handleLeave)
	s.api.Post("/room/rejoin", s.handleRejoin)
	s.api.Get("/transitions", s.handleTransitions)

	s.app.Get("/health", s.handleHealth)
}

// App returns the underlying Fiber app for route registration
func (s *ApiServer) App() *fiber.App {
	return s.app
}

// Start starts the HTTP server
func (s *ApiServer) Start(addr string) error {
	s.logger.Info("starting control server on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *ApiServer) Shutdown(ctx context.Context) error {
	s.logger.Info("control server shutdown requested")
	return s.app.ShutdownWithContext(ctx)
}

func (s *ApiServer) handleHealth(c *fiber.Ctx) error {
	return api.SuccessResp(c, fiber.Map{
		"status":  "healthy",
		"version": s.version,
	})
}

func (s *ApiServer) handleStatus(c *fiber.Ctx) error {
	return api.SuccessResp(c, fiber.Map{
		"deviceId": s.controller.ID(),
		"role":     s.controller.Role(),
		"roomId":   s.controller.RoomID(),
		"status":   s.controller.Status(),
		"peers":    s.controller.Peers(),
	})
}

func (s *ApiServer) handleJoin(c *fiber.Ctx) error {
	if s.controller.Status() != model.DeviceStatusInit {
		return api.ErrorConflictResp(c, "already joined; leave the room first")
	}
	if err := s.controller.JoinRoom(s.baseCtx); err != nil {
		return api.ErrorInternalServerErrorResp(c, err.Error())
	}
	return api.SuccessResp(c, fiber.Map{
		"status": s.controller.Status(),
	})
}

func (s *ApiServer) handleLeave(c *fiber.Ctx) error {
	s.controller.LeaveRoom()
	return api.SuccessResp(c, fiber.Map{
		"status": s.controller.Status(),
	})
}

func (s *ApiServer) handleRejoin(c *fiber.Ctx) error {
	if err := s.controller.Reconnect(s.baseCtx); err != nil {
		return api.ErrorInternalServerErrorResp(c, err.Error())
	}
	return api.SuccessResp(c, fiber.Map{
		"status": s.controller.Status(),
	})
}

func (s *ApiServer) handleTransitions(c *fiber.Ctx) error {
	if s.journal == nil {
		return api.SuccessResp(c, []any{})
	}
	deviceID := c.Query("device", s.controller.ID())
	limit := c.QueryInt("limit", 50)

	transitions, err := s.journal.Recent(deviceID, limit)
	if err != nil {
		return api.ErrorInternalServerErrorResp(c, err.Error())
	}
	return api.SuccessResp(c, transitions)
}

// customErrorHandler handles errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		status = e.Code
	}

	return c.Status(status).JSON(api.ApiResponse{
		Success: false,
		Error: &api.ApiError{
			Status:  status,
			Message: err.Error(),
		},
	})
}
