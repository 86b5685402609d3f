package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	if len(s.config.Security.AllowOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
			AllowMethods: "GET, POST, OPTIONS",
		}))
	}

	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	auth := s.authMiddleware()

	identity := s.app.Group("/identity", auth)
	identity.Post("/create", s.handleCreateIdentity)
	identity.Post("/retrieve", s.handleRetrieve)
	identity.Post("/delete", s.handleDeleteIdentity)

	document := s.app.Group("/document", auth)
	document.Post("/add-document", s.handleAddDocument)

	s.app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "not found"})
	})
}
