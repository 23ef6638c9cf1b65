package models

import "time"

// Account is the subscription state this subsystem consumes for tier and
// ceiling resolution. It is maintained by the external account/subscription
// collaborator; we only read the tier.
type Account struct {
	ID        string    `json:"id"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
