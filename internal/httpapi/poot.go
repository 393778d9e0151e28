package httpapi

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/HamiGames/Lucid-sub000/internal/poot"
)

func (s *Server) registerPoOTRoutes(r fiber.Router) {
	g := r.Group("/poot")
	g.Post("/challenges", s.generateOwnershipChallenge)
	g.Post("/proofs", s.submitOwnershipProof)
	g.Post("/stake/validate", s.validateStake)
}

type generateChallengeRequest struct {
	NodeID     string         `json:"node_id"`
	Kind       poot.ProofKind `json:"kind"`
	Difficulty int            `json:"difficulty"`
}

func (s *Server) generateOwnershipChallenge(c *fiber.Ctx) error {
	var req generateChallengeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	ch, err := s.PoOT.GenerateOwnershipChallenge(c.Context(), req.NodeID, req.Kind, req.Difficulty)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "challenge generated", ch)
}

type submitProofRequest struct {
	ChallengeID string  `json:"challenge_id"`
	NodeID      string  `json:"node_id"`
	StakeAmount float64 `json:"stake_amount"`
	Signature   []byte  `json:"signature"`
	ProofData   []byte  `json:"proof_data"`
}

func (s *Server) submitOwnershipProof(c *fiber.Ctx) error {
	var req submitProofRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	p, err := s.PoOT.SubmitOwnershipProof(c.Context(), poot.Proof{
		ChallengeID: req.ChallengeID,
		NodeID:      req.NodeID,
		StakeAmount: req.StakeAmount,
		Signature:   req.Signature,
		ProofData:   req.ProofData,
	})
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "proof validated", p)
}

func (s *Server) validateStake(c *fiber.Ctx) error {
	nodeID := c.Query("node_id")
	address := c.Query("address")
	claimed, _ := strconv.ParseFloat(c.Query("claimed"), 64)
	valid, err := s.PoOT.ValidateStake(c.Context(), nodeID, address, claimed)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "stake validated", fiber.Map{"valid": valid})
}
