// Package api exposes the store's apply/query operations over HTTP.
// Routing, framing and error-shape translation live here; the store
// package never imports it.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"github.com/dawnstore-io/dawnstore/internal/config"
	"github.com/dawnstore-io/dawnstore/internal/store"
)

// Server wraps the fiber app bound to one Store.
type Server struct {
	app   *fiber.App
	store *store.Store
}

// NewServer builds the HTTP surface: /apply, /get-objects,
// /get-resource-definitions, /delete-object.
func NewServer(cfg config.ServerConfig, st *store.Store) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		BodyLimit:    cfg.BodyLimit,
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(requestLogger())

	s := &Server{app: app, store: st}

	app.Post("/apply", s.handleApply)
	app.Post("/get-objects", s.handleGetObjects)
	app.Post("/get-resource-definitions", s.handleGetResourceDefinitions)
	app.Delete("/delete-object", s.handleDeleteObject)
	app.Get("/healthz", s.handleHealth)

	return s
}

// Listen starts serving on addr; blocks until the listener stops.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Test drives the app in-process without binding a socket, for handler tests.
func (s *Server) Test(req *http.Request) (*http.Response, error) {
	return s.app.Test(req)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
		return err
	}
}

// errorHandler keeps fiber's default body-parse failures on the same
// textual, 400-for-everything contract as the route handlers' fail helper.
func errorHandler(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
}
