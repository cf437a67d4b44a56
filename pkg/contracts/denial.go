package contracts

import "time"

// DenialReceipt is emitted whenever the engine refuses a trade. Every
// refusal is receipted.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type DenialReceipt struct {
	ReceiptID   string     `json:"receipt_id"`
	DeniedAt    time.Time  `json:"denied_at"`
	UserID      string     `json:"user_id"`
	Operation   string     `json:"operation"`
	Code        ReasonCode `json:"code"`
	Category    Category   `json:"category"`
	Reason      string     `json:"reason"`
	Pair        string     `json:"pair,omitempty"`
	Action      Action     `json:"action,omitempty"`
	Simulated   bool       `json:"is_paper_trade"`
	ContentHash string     `json:"content_hash"`
}
