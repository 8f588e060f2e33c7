package dto

type WalletResponse struct {
	Balance  float64          `json:"balance"`
	Counters map[string]int64 `json:"counters"`
	// Degraded is true when the balance comes from the local snapshot
	// because the authoritative ledger was unreachable.
	Degraded bool `json:"degraded,omitempty"`
}
