package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/HamiGames/Lucid-sub000/internal/pool"
)

func (s *Server) registerPoolRoutes(r fiber.Router) {
	g := r.Group("/pools")
	g.Post("/", s.createPool)
	g.Post("/:poolId/join-requests", s.requestJoinPool)
	g.Put("/:poolId/join-requests/:requestId/approve", s.approveJoinRequest)
	g.Delete("/:poolId/members/:nodeId", s.leavePool)
	g.Post("/:poolId/credits/sync", s.syncWorkCredits)
	g.Post("/:poolId/rewards/distribute", s.distributeRewards)
}

type createPoolRequest struct {
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	CreatorNodeID string      `json:"creator_node_id"`
	Config        pool.Config `json:"config"`
}

func (s *Server) createPool(c *fiber.Ctx) error {
	var req createPoolRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	p, err := s.Pool.CreatePool(c.Context(), req.Name, req.Description, req.CreatorNodeID, req.Config)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "pool created", p)
}

type joinPoolRequest struct {
	NodeID string `json:"node_id"`
}

func (s *Server) requestJoinPool(c *fiber.Ctx) error {
	var req joinPoolRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	jr, err := s.Pool.RequestJoinPool(c.Context(), c.Params("poolId"), req.NodeID)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "join request submitted", jr)
}

type approveJoinRequest struct {
	ApproverNodeID string `json:"approver_node_id"`
}

func (s *Server) approveJoinRequest(c *fiber.Ctx) error {
	var req approveJoinRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.Pool.ApproveJoinRequest(c.Context(), c.Params("requestId"), req.ApproverNodeID); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "join request approved", nil)
}

func (s *Server) leavePool(c *fiber.Ctx) error {
	if err := s.Pool.LeavePool(c.Context(), c.Params("poolId"), c.Params("nodeId")); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "left pool", nil)
}

func (s *Server) syncWorkCredits(c *fiber.Ctx) error {
	var nodeCredits map[string]float64
	if err := c.BodyParser(&nodeCredits); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.Pool.SyncWorkCredits(c.Context(), c.Params("poolId"), nodeCredits); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "work credits synced", nil)
}

func (s *Server) distributeRewards(c *fiber.Ctx) error {
	if err := s.Pool.DistributeRewards(c.Context(), c.Params("poolId")); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "rewards distributed", nil)
}
