package app

import (
	"context"
	"time"

	"prarambh-quiz-service/internal/domain"
)

// RoundAccessController is the admin-operated gate per round. Closing a
// gate force-finalizes any attempt still open for that round, preserving
// whatever partial score was recorded.
type RoundAccessController struct {
	users UserStore
	gates GateStore
	now   func() time.Time
}

func NewRoundAccessController(users UserStore, gates GateStore) *RoundAccessController {
	return &RoundAccessController{users: users, gates: gates, now: time.Now}
}

// SetRoundAccess toggles one round's gate on behalf of an admin. The gate
// write and the force-finalization run as one transaction in the store.
func (c *RoundAccessController) SetRoundAccess(ctx context.Context, adminID int64, round int, enabled bool) (domain.RoundGates, error) {
	if round < domain.Round1 || round > domain.Round3 {
		return domain.RoundGates{}, domain.ErrInvalidRound
	}
	admin, err := c.users.GetUser(ctx, adminID)
	if err != nil {
		return domain.RoundGates{}, err
	}
	if !admin.IsAdmin {
		return domain.RoundGates{}, domain.ErrNotAdmin
	}
	gates, _, err := c.gates.SetGate(ctx, round, enabled, c.now())
	return gates, err
}

// Gates returns the current gate state for display.
func (c *RoundAccessController) Gates(ctx context.Context) (domain.RoundGates, error) {
	return c.gates.GetGates(ctx)
}
