package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/HamiGames/Lucid-sub000/internal/governance"
)

func (s *Server) registerGovernanceRoutes(r fiber.Router) {
	g := r.Group("/governance/proposals")
	g.Post("/", s.createProposal)
	g.Put("/:proposalId/discussion", s.startDiscussion)
	g.Put("/:proposalId/cancel", s.cancelProposal)
	g.Post("/:proposalId/votes", s.castVote)
	g.Get("/:proposalId/tally", s.updateProposalTally)
	g.Put("/:proposalId/execute", JWTMiddleware(s.Cfg), RequireRole("admin"), s.executeProposal)

	d := r.Group("/governance/delegations")
	d.Post("/", s.createDelegation)
	d.Delete("/:delegationId", s.revokeDelegation)
}

type createProposalRequest struct {
	ProposerNodeID string                 `json:"proposer_node_id"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	Kind           governance.Kind        `json:"kind"`
	WeightMethod   governance.WeightMethod `json:"weight_method"`
	Parameters     map[string]interface{} `json:"parameters"`
}

func (s *Server) createProposal(c *fiber.Ctx) error {
	var req createProposalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	p, err := s.Governance.CreateProposal(c.Context(), req.ProposerNodeID, req.Title, req.Description, req.Kind, req.WeightMethod, req.Parameters)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "proposal created", p)
}

func (s *Server) startDiscussion(c *fiber.Ctx) error {
	if err := s.Governance.StartDiscussion(c.Context(), c.Params("proposalId")); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "discussion started", nil)
}

func (s *Server) cancelProposal(c *fiber.Ctx) error {
	if err := s.Governance.Cancel(c.Context(), c.Params("proposalId")); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "proposal cancelled", nil)
}

type castVoteRequest struct {
	VoterNodeID  string             `json:"voter_node_id"`
	Choice       governance.Choice  `json:"choice"`
	DelegateFrom string             `json:"delegate_from"`
}

func (s *Server) castVote(c *fiber.Ctx) error {
	var req castVoteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.Governance.CastVote(c.Context(), c.Params("proposalId"), req.VoterNodeID, req.Choice, req.DelegateFrom); err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "vote cast", nil)
}

func (s *Server) updateProposalTally(c *fiber.Ctx) error {
	tally, err := s.Governance.UpdateProposalTally(c.Context(), c.Params("proposalId"))
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "tally updated", tally)
}

type executeProposalRequest struct {
	ExecutionHash string `json:"execution_hash"`
}

func (s *Server) executeProposal(c *fiber.Ctx) error {
	var req executeProposalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.Governance.Execute(c.Context(), c.Params("proposalId"), req.ExecutionHash); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "proposal executed", nil)
}

type createDelegationRequest struct {
	Delegator string `json:"delegator"`
	Delegate  string `json:"delegate"`
	Scope     string `json:"scope"`
}

func (s *Server) createDelegation(c *fiber.Ctx) error {
	var req createDelegationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	d, err := s.Governance.Delegate(c.Context(), req.Delegator, req.Delegate, req.Scope)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "delegation created", d)
}

func (s *Server) revokeDelegation(c *fiber.Ctx) error {
	if err := s.Governance.RevokeDelegation(c.Context(), c.Params("delegationId")); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "delegation revoked", nil)
}
