package app

import "context"

// DefaultQualifierCap is how many non-admin users may ever qualify for
// Round 3 through the pass-and-reserve path.
const DefaultQualifierCap = 10

// QualificationEngine admits the first N users who pass Round 2. The
// count-then-set decision is delegated to the store as a single atomic
// reservation so two users racing for the last slot can never both win.
type QualificationEngine struct {
	users UserStore
	slots QualificationStore
	cap   int
}

func NewQualificationEngine(users UserStore, slots QualificationStore, cap int) *QualificationEngine {
	if cap <= 0 {
		cap = DefaultQualifierCap
	}
	return &QualificationEngine{users: users, slots: slots, cap: cap}
}

// TryQualify reserves a Round 3 slot for the user. Admins are pre-qualified
// and never consume a slot; an already-qualified user keeps their slot. A
// false return means the user passed but every slot was taken.
func (q *QualificationEngine) TryQualify(ctx context.Context, userID int64) (bool, error) {
	user, err := q.users.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.IsAdmin || user.QualifiedForRound3 {
		return true, nil
	}
	return q.slots.ReserveQualificationSlot(ctx, userID, q.cap)
}

// Cap exposes the configured slot count for presentation.
func (q *QualificationEngine) Cap() int {
	return q.cap
}
