package domain

import "time"

type PriorityTier string

const (
	PriorityHigh   PriorityTier = "high"
	PriorityMedium PriorityTier = "medium"
	PriorityLow    PriorityTier = "low"
)

// IsValid reports whether t is one of the known tiers.
func (t PriorityTier) IsValid() bool {
	switch t {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// TargetRecord is one entry in the polling population: a patient device
// endpoint that must be fetched once per cycle. ID is the only identity;
// it is the sole input to offset hashing.
type TargetRecord struct {
	ID          string
	EndpointRef string
	Priority    PriorityTier // defaults to medium when empty
	Enabled     bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
