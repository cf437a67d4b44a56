package explain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/asifgondal786/tajir/pkg/contracts"
)

// Fingerprint binds a token to the economically relevant fields of a
// proposal. The fields are normalized, serialized as RFC 8785 canonical
// JSON and hashed with SHA-256.
func Fingerprint(p contracts.TradeProposal) (string, error) {
	var risk any
	if p.RiskPercent != nil {
		risk = p.RiskPercent.String()
	}
	fields := map[string]any{
		"pair":           strings.ToUpper(norm.NFKC.String(strings.TrimSpace(p.Pair))),
		"action":         strings.ToUpper(norm.NFKC.String(strings.TrimSpace(string(p.Action)))),
		"entry_price":    decimal.NewFromFloat(p.EntryPrice).String(),
		"stop_loss":      decimal.NewFromFloat(p.StopLoss).String(),
		"take_profit":    decimal.NewFromFloat(p.TakeProfit).String(),
		"position_size":  decimal.NewFromFloat(p.PositionSize).String(),
		"risk_percent":   risk,
		"is_paper_trade": p.Simulated,
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint fields: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize fingerprint fields: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
