// Package server exposes the thin task-intake surface. The wire format is
// deliberately minimal: callers submit an action tag with parameters and
// poll the returned task id for progress.
package server

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/zoneops/agent/internal/actions"
	"github.com/zoneops/agent/internal/sysinfo"
	"github.com/zoneops/agent/internal/task"
	"go.uber.org/zap"
)

type Server struct {
	app        *fiber.App
	registry   *task.Registry
	dispatcher *actions.Dispatcher
	collector  *sysinfo.Collector
	log        *zap.Logger
}

type CreateTaskRequest struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
}

func New(registry *task.Registry, dispatcher *actions.Dispatcher, log *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	s := &Server{
		app:        app,
		registry:   registry,
		dispatcher: dispatcher,
		collector:  sysinfo.NewCollector(),
		log:        log,
	}

	api := app.Group("/api/v1")
	api.Post("/tasks", s.handleCreateTask)
	api.Get("/tasks/:id", s.handleGetTask)
	api.Get("/status", s.handleStatus)

	return s
}

// App exposes the fiber application, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleCreateTask(c *fiber.Ctx) error {
	var req CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		s.log.Warn("create_task_body_parse_failed", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.Action == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Action is required"})
	}

	t := task.New(req.Action, req.Params, s.log)
	s.registry.Add(t)
	s.dispatcher.Run(context.Background(), t)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": t.ID()})
}

func (s *Server) handleGetTask(c *fiber.Ctx) error {
	info, ok := s.registry.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Task not found"})
	}
	return c.JSON(info)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.collector.Collect())
}
