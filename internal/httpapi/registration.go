package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/HamiGames/Lucid-sub000/internal/peer"
)

func (s *Server) registerRegistrationRoutes(r fiber.Router) {
	g := r.Group("/registrations")
	g.Post("/", s.submitRegistration)
	g.Post("/:registrationId/challenges/:challengeId/response", s.verifyChallenge)
	g.Put("/:registrationId/approve", JWTMiddleware(s.Cfg), RequireRole("admin"), s.approveRegistration)
	g.Get("/:registrationId/token", s.issueReachabilityToken)
	g.Get("/:registrationId/receipt.png", s.approvalReceiptQR)
}

type submitRegistrationRequest struct {
	NodeID         string    `json:"node_id"`
	OverlayAddress string    `json:"overlay_address"`
	Port           int       `json:"port"`
	Role           peer.Role `json:"role"`
	Stake          float64   `json:"stake"`
}

func (s *Server) submitRegistration(c *fiber.Ctx) error {
	var req submitRegistrationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	reg, err := s.Registration.Submit(c.Context(), req.NodeID, req.OverlayAddress, req.Port, req.Role, req.Stake)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "registration submitted", reg)
}

type verifyChallengeRequest struct {
	Response []byte `json:"response"`
}

func (s *Server) verifyChallenge(c *fiber.Ctx) error {
	var req verifyChallengeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.Registration.VerifyChallenge(c.Context(), c.Params("challengeId"), req.Response); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "challenge verified", nil)
}

func (s *Server) approveRegistration(c *fiber.Ctx) error {
	if err := s.Registration.Approve(c.Context(), c.Params("registrationId")); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "registration approved", nil)
}

func (s *Server) issueReachabilityToken(c *fiber.Ctx) error {
	tok, err := s.Registration.IssueReachabilityToken(c.Params("registrationId"))
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "reachability token issued", fiber.Map{"token": tok})
}

func (s *Server) approvalReceiptQR(c *fiber.Ctx) error {
	png, err := s.Registration.ApprovalReceiptQR(c.Params("registrationId"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(png)
}
