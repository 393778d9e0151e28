package httpapi

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

func (s *Server) registerPayoutRoutes(r fiber.Router) {
	g := r.Group("/payouts")
	g.Get("/eligibility", s.checkPayoutEligibility)
	g.Post("/", s.createPayout)
	g.Delete("/:requestId", s.cancelPayout)
	g.Post("/process", JWTMiddleware(s.Cfg), RequireRole("admin"), s.processPendingPayouts)
	g.Post("/batches/process", JWTMiddleware(s.Cfg), RequireRole("admin"), s.processBatches)
}

func (s *Server) checkPayoutEligibility(c *fiber.Ctx) error {
	amount, err := strconv.ParseFloat(c.Query("amount"), 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "amount query parameter must be numeric")
	}
	elig := s.Payout.CheckPayoutEligibility(amount)
	return ok(c, fiber.StatusOK, "eligibility checked", elig)
}

type createPayoutRequest struct {
	NodeID           string  `json:"node_id"`
	Kind             string  `json:"kind"`
	Amount           float64 `json:"amount"`
	RecipientAddress string  `json:"recipient_address"`
}

func (s *Server) createPayout(c *fiber.Ctx) error {
	var req createPayoutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	created, err := s.Payout.CreatePayout(c.Context(), req.NodeID, req.Kind, req.Amount, req.RecipientAddress)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "payout request created", created)
}

func (s *Server) cancelPayout(c *fiber.Ctx) error {
	if err := s.Payout.CancelPayout(c.Context(), c.Params("requestId")); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "payout cancelled", nil)
}

func (s *Server) processPendingPayouts(c *fiber.Ctx) error {
	s.Payout.ProcessPending(c.Context())
	return ok(c, fiber.StatusOK, "pending payouts processed", nil)
}

func (s *Server) processBatches(c *fiber.Ctx) error {
	if err := s.Payout.ProcessBatches(c.Context()); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "payout batches processed", nil)
}
