package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/HamiGames/Lucid-sub000/internal/peer"
)

func (s *Server) registerPeerRoutes(r fiber.Router) {
	g := r.Group("/peers")
	g.Get("/", s.listPeers)
	g.Get("/:nodeId", s.getPeer)
	g.Post("/", JWTMiddleware(s.Cfg), RequireRole("admin"), s.addPeer)
	g.Delete("/:nodeId", JWTMiddleware(s.Cfg), RequireRole("admin"), s.removePeer)
	g.Put("/:nodeId/metrics", s.updatePeerMetrics)
}

func (s *Server) listPeers(c *fiber.Ctx) error {
	role := c.Query("role")
	if role != "" {
		return ok(c, fiber.StatusOK, "peers retrieved", s.Peers.GetPeersByRole(peer.Role(role)))
	}
	return ok(c, fiber.StatusOK, "peers retrieved", s.Peers.GetActivePeers())
}

func (s *Server) getPeer(c *fiber.Ctx) error {
	p, found := s.Peers.GetPeer(c.Params("nodeId"))
	if !found {
		return fiber.NewError(fiber.StatusNotFound, "peer not found")
	}
	return ok(c, fiber.StatusOK, "peer retrieved", p)
}

type addPeerRequest struct {
	NodeID         string     `json:"node_id"`
	OverlayAddress string     `json:"overlay_address"`
	Port           int        `json:"port"`
	Role           peer.Role  `json:"role"`
	Capabilities   []string   `json:"capabilities"`
}

func (s *Server) addPeer(c *fiber.Ctx) error {
	var req addPeerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	p := peer.Peer{
		NodeID:         req.NodeID,
		OverlayAddress: req.OverlayAddress,
		Port:           req.Port,
		Role:           req.Role,
		Capabilities:   req.Capabilities,
	}
	if err := s.Peers.AddPeer(c.Context(), p); err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "peer added", p)
}

func (s *Server) removePeer(c *fiber.Ctx) error {
	if err := s.Peers.RemovePeer(c.Context(), c.Params("nodeId")); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "peer removed", nil)
}

type updatePeerMetricsRequest struct {
	Credits       float64 `json:"credits"`
	UptimePercent float64 `json:"uptime_percent"`
}

func (s *Server) updatePeerMetrics(c *fiber.Ctx) error {
	var req updatePeerMetricsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.Peers.UpdatePeerMetrics(c.Context(), c.Params("nodeId"), req.Credits, req.UptimePercent); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "peer metrics updated", nil)
}
