package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/dawnstore-io/dawnstore/internal/store"
)

// handleApply accepts an arbitrary JSON document and runs it through
// apply_raw. Every error is surfaced as 400 with a textual form; nothing
// is retried here.
func (s *Server) handleApply(c *fiber.Ctx) error {
	var doc any
	if err := c.BodyParser(&doc); err != nil {
		return fail(c, err)
	}

	objects, err := s.store.ApplyRaw(c.Context(), doc)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(objects)
}

// getObjectsRequest mirrors GetObjectsFilter on the wire.
type getObjectsRequest struct {
	Namespace             *string     `json:"namespace"`
	Kind                  *string     `json:"kind"`
	Name                  *string     `json:"name"`
	IDs                   []uuid.UUID `json:"ids"`
	FillChildForeignKeys  bool        `json:"fill_child_foreign_keys"`
	FillParentForeignKeys bool        `json:"fill_parent_foreign_keys"`
	Page                  *int        `json:"page"`
	PageSize              *int        `json:"page_size"`
}

func (s *Server) handleGetObjects(c *fiber.Ctx) error {
	var req getObjectsRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, err)
	}

	objects, err := s.store.GetByFilter(c.Context(), store.GetObjectsFilter{
		Namespace:             req.Namespace,
		Kind:                  req.Kind,
		Name:                  req.Name,
		IDs:                   req.IDs,
		FillChildForeignKeys:  req.FillChildForeignKeys,
		FillParentForeignKeys: req.FillParentForeignKeys,
		Page:                  req.Page,
		PageSize:              req.PageSize,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(objects)
}

func (s *Server) handleGetResourceDefinitions(c *fiber.Ctx) error {
	defs, err := s.store.GetResourceDefinitions(c.Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(defs)
}

// deleteObjectRequest mirrors DeleteObject on the wire.
type deleteObjectRequest struct {
	Namespace *string `json:"namespace"`
	Kind      string  `json:"kind"`
	Name      string  `json:"name"`
}

func (s *Server) handleDeleteObject(c *fiber.Ctx) error {
	var req deleteObjectRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, err)
	}

	if err := s.store.Delete(c.Context(), store.DeleteObject{
		Namespace: req.Namespace,
		Kind:      req.Kind,
		Name:      req.Name,
	}); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// fail maps every store error to 400 Bad Request with its textual form,
// validation and database failures alike. No stack leakage.
func fail(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
}
