package models

// SubscriptionBalance mirrors the metered time left on a student's plan.
// It is remote-owned; the client only replaces it wholesale from heartbeat
// responses, never accumulates into it.
type SubscriptionBalance struct {
	SecondsRemaining int `json:"seconds_remaining"`
}

func (b SubscriptionBalance) Exhausted() bool {
	return b.SecondsRemaining <= 0
}
