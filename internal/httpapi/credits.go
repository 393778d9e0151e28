package httpapi

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/HamiGames/Lucid-sub000/internal/credits"
)

func (s *Server) registerCreditsRoutes(r fiber.Router) {
	g := r.Group("/credits")
	g.Post("/proofs", s.submitWorkProof)
	g.Get("/entities/:entityId", s.calculateWorkCredits)
	g.Get("/entities/:entityId/rank", s.getEntityRank)
	g.Get("/top", s.getTopEntities)
}

type submitWorkProofRequest struct {
	NodeID    string            `json:"node_id"`
	PoolID    string            `json:"pool_id"`
	Slot      int64             `json:"slot"`
	TaskKind  credits.TaskKind  `json:"task_kind"`
	Value     float64           `json:"value"`
	Signature []byte            `json:"signature"`
}

func (s *Server) submitWorkProof(c *fiber.Ctx) error {
	var req submitWorkProofRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	p := credits.WorkProof{
		NodeID:    req.NodeID,
		PoolID:    req.PoolID,
		Slot:      req.Slot,
		TaskKind:  req.TaskKind,
		Value:     req.Value,
		Signature: req.Signature,
		Timestamp: time.Now().UTC(),
	}
	if err := s.Credits.SubmitWorkProof(c.Context(), p); err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "work proof submitted", nil)
}

func (s *Server) calculateWorkCredits(c *fiber.Ctx) error {
	windowDays, _ := strconv.Atoi(c.Query("window_days", "30"))
	total, err := s.Credits.CalculateWorkCredits(c.Context(), c.Params("entityId"), windowDays)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "work credits calculated", fiber.Map{"entity_id": c.Params("entityId"), "credits": total})
}

func (s *Server) getEntityRank(c *fiber.Ctx) error {
	epoch, _ := strconv.ParseInt(c.Query("epoch", "0"), 10, 64)
	tally, found, err := s.Credits.GetEntityRank(c.Context(), c.Params("entityId"), epoch)
	if err != nil {
		return err
	}
	if !found {
		return fiber.NewError(fiber.StatusNotFound, "entity has no tally for this epoch")
	}
	return ok(c, fiber.StatusOK, "entity rank retrieved", tally)
}

func (s *Server) getTopEntities(c *fiber.Ctx) error {
	epoch, _ := strconv.ParseInt(c.Query("epoch", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit", "10"))
	top, err := s.Credits.GetTopEntities(c.Context(), epoch, limit)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "top entities retrieved", top)
}
