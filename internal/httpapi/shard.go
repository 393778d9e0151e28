package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/HamiGames/Lucid-sub000/internal/shard"
)

func (s *Server) registerShardRoutes(r fiber.Router) {
	g := r.Group("/shards")
	g.Post("/sessions/:sessionId/place", s.placeShards)
	g.Post("/hosts", s.saveHost)
	g.Post("/maintenance", s.startMaintenance)
	g.Put("/maintenance/:windowId/end", s.endMaintenance)
}

type placeShardsRequest struct {
	Chunks []shard.Chunk `json:"chunks"`
}

func (s *Server) placeShards(c *fiber.Ctx) error {
	var req placeShardsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	shards, err := s.Shard.PlaceShards(c.Context(), c.Params("sessionId"), req.Chunks)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "shards placed", shards)
}

func (s *Server) saveHost(c *fiber.Ctx) error {
	var h shard.Host
	if err := c.BodyParser(&h); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.Shard.SaveHost(c.Context(), h); err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "host saved", h)
}

type startMaintenanceRequest struct {
	HostID      string    `json:"host_id"`
	End         time.Time `json:"end"`
	BackupHosts []string  `json:"backup_hosts"`
}

func (s *Server) startMaintenance(c *fiber.Ctx) error {
	var req startMaintenanceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	w, err := s.Shard.StartMaintenance(c.Context(), req.HostID, req.End, req.BackupHosts)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "maintenance started", w)
}

func (s *Server) endMaintenance(c *fiber.Ctx) error {
	if err := s.Shard.EndMaintenance(c.Context(), c.Params("windowId")); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "maintenance ended", nil)
}
