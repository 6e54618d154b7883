package lifecycle

import (
	"fmt"
	"time"

	apperrors "github.com/Ramsey-B/clover/pkg/errors"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Policy decides which status a transfer moves a batch into.
type Policy string

const (
	// PolicyCollapse moves every non-terminal batch to IN_TRANSIT on transfer.
	PolicyCollapse Policy = "collapse"
	// PolicyDestination derives the status from the recipient's role.
	PolicyDestination Policy = "destination"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyCollapse, PolicyDestination:
		return Policy(s), nil
	case "":
		return PolicyCollapse, nil
	default:
		return "", fmt.Errorf("unknown status policy %q", s)
	}
}

type set map[models.BatchStatus]struct{}

// transitions is the full set of stored status changes. EXPIRED is absent
// because it is computed on read.
var transitions = map[models.BatchStatus]set{
	models.BatchStatusProduced:  {models.BatchStatusInTransit: {}},
	models.BatchStatusInTransit: {models.BatchStatusInTransit: {}, models.BatchStatusDelivered: {}},
	models.BatchStatusDelivered: {models.BatchStatusSold: {}},
}

// CanTransition reports whether from -> to is a legal stored transition.
func CanTransition(from, to models.BatchStatus) bool {
	_, ok := transitions[from][to]
	return ok
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status models.BatchStatus) bool {
	return len(transitions[status]) == 0
}

// IsExpired reports whether the batch's expiry date has passed at now.
func IsExpired(b models.Batch, now time.Time) bool {
	return !b.ExpiryDate.IsZero() && now.After(b.ExpiryDate)
}

// EffectiveStatus is the status reported to readers: EXPIRED once the expiry
// date has passed for a batch that has not been sold.
func EffectiveStatus(b models.Batch, now time.Time) models.BatchStatus {
	if b.Status != models.BatchStatusSold && IsExpired(b, now) {
		return models.BatchStatusExpired
	}
	return b.Status
}

type Machine struct {
	policy Policy
	now    func() time.Time
}

func NewMachine(policy Policy, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{policy: policy, now: now}
}

func (m *Machine) Policy() Policy {
	return m.policy
}

// Initial is the status of a freshly registered batch.
func (m *Machine) Initial() models.BatchStatus {
	return models.BatchStatusProduced
}

// Resolve replaces the batch status with its effective status.
func (m *Machine) Resolve(b *models.Batch) {
	b.Status = EffectiveStatus(*b, m.now())
}

// NextOnTransfer returns the status the batch moves to when transferred to a
// holder with role dest.
func (m *Machine) NextOnTransfer(b models.Batch, dest models.Role) (models.BatchStatus, error) {
	if IsExpired(b, m.now()) && b.Status != models.BatchStatusSold {
		return "", apperrors.InvalidTransition("batch %s expired on %s", b.ID, b.ExpiryDate.Format(time.DateOnly))
	}
	if IsTerminal(b.Status) {
		return "", apperrors.InvalidTransition("batch %s is %s and cannot be transferred", b.ID, b.Status)
	}

	next := m.target(b.Status, dest)
	if !CanTransition(b.Status, next) {
		return "", apperrors.InvalidTransition("transition %s -> %s is not allowed", b.Status, next)
	}
	return next, nil
}

func (m *Machine) target(current models.BatchStatus, dest models.Role) models.BatchStatus {
	if m.policy != PolicyDestination {
		return models.BatchStatusInTransit
	}

	switch current {
	case models.BatchStatusProduced:
		return models.BatchStatusInTransit
	case models.BatchStatusInTransit:
		if dest == models.RoleRetailer || dest == models.RoleConsumer {
			return models.BatchStatusDelivered
		}
		return models.BatchStatusInTransit
	case models.BatchStatusDelivered:
		return models.BatchStatusSold
	}
	return models.BatchStatusInTransit
}
