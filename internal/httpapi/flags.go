package httpapi

import (
	"github.com/gofiber/fiber/v2"
)

func (s *Server) registerFlagsRoutes(r fiber.Router) {
	g := r.Group("/flags")
	g.Put("/:flagId/ack", s.acknowledgeFlag)
	g.Put("/:flagId/resolve", s.resolveFlag)
	g.Get("/nodes/:nodeId/summary", s.getNodeSummary)
	g.Get("/network-health", s.getNetworkHealth)
}

type actorRequest struct {
	By string `json:"by"`
}

func (s *Server) acknowledgeFlag(c *fiber.Ctx) error {
	var req actorRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.Flags.Acknowledge(c.Context(), c.Params("flagId"), req.By); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "flag acknowledged", nil)
}

func (s *Server) resolveFlag(c *fiber.Ctx) error {
	var req actorRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.Flags.Resolve(c.Context(), c.Params("flagId"), req.By); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "flag resolved", nil)
}

func (s *Server) getNodeSummary(c *fiber.Ctx) error {
	summary, err := s.Flags.GetNodeSummary(c.Context(), c.Params("nodeId"))
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "node flag summary retrieved", summary)
}

func (s *Server) getNetworkHealth(c *fiber.Ctx) error {
	health, err := s.Flags.NetworkHealth(c.Context())
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "network health retrieved", fiber.Map{"network_health": health})
}
