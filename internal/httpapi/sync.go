package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/HamiGames/Lucid-sub000/internal/sync"
)

func (s *Server) registerSyncRoutes(r fiber.Router) {
	g := r.Group("/operators")
	g.Post("/", s.registerOperator)
	g.Post("/:operatorId/heartbeat", s.heartbeat)
	g.Post("/operations", s.submitOperation)
	g.Post("/conflicts", s.reportConflict)
	g.Post("/elect-leader", JWTMiddleware(s.Cfg), RequireRole("admin"), s.electLeader)
	g.Post("/:operatorId/checkpoints", s.createCheckpoint)
	g.Post("/:operatorId/rollback", JWTMiddleware(s.Cfg), RequireRole("admin"), s.rollback)
}

func (s *Server) registerOperator(c *fiber.Ctx) error {
	var op sync.Operator
	if err := c.BodyParser(&op); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.Sync.RegisterOperator(c.Context(), op); err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "operator registered", op)
}

func (s *Server) heartbeat(c *fiber.Ctx) error {
	if err := s.Sync.Heartbeat(c.Context(), c.Params("operatorId")); err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "heartbeat recorded", nil)
}

type submitOperationRequest struct {
	Initiator string                 `json:"initiator"`
	Kind      sync.OpKind            `json:"kind"`
	Subkind   sync.EmergencySubkind  `json:"subkind"`
	Payload   map[string]interface{} `json:"payload"`
	Targets   []string               `json:"targets"`
	Priority  int                    `json:"priority"`
}

func (s *Server) submitOperation(c *fiber.Ctx) error {
	var req submitOperationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	op, err := s.Sync.SubmitOperation(c.Context(), req.Initiator, req.Kind, req.Subkind, req.Payload, req.Targets, req.Priority)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "operation submitted", op)
}

type reportConflictRequest struct {
	Kind     sync.ConflictKind      `json:"kind"`
	Involved []string               `json:"involved"`
	Data     map[string]interface{} `json:"data"`
}

func (s *Server) reportConflict(c *fiber.Ctx) error {
	var req reportConflictRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	conflict, err := s.Sync.ReportConflict(c.Context(), req.Kind, req.Involved, req.Data)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "conflict reported", conflict)
}

func (s *Server) electLeader(c *fiber.Ctx) error {
	leader, err := s.Sync.ElectLeader(c.Context())
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "leader elected", fiber.Map{"leader": leader})
}

func (s *Server) createCheckpoint(c *fiber.Ctx) error {
	var state map[string]interface{}
	if err := c.BodyParser(&state); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	cp, err := s.Sync.CreateCheckpoint(c.Context(), c.Params("operatorId"), state)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusCreated, "checkpoint created", cp)
}

type rollbackRequest struct {
	Initiator string `json:"initiator"`
}

func (s *Server) rollback(c *fiber.Ctx) error {
	var req rollbackRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	cp, err := s.Sync.Rollback(c.Context(), c.Params("operatorId"), req.Initiator)
	if err != nil {
		return err
	}
	return ok(c, fiber.StatusOK, "rolled back to prior checkpoint", cp)
}
