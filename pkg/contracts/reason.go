package contracts

// ReasonCode is the machine-checkable reason attached to every decision.
type ReasonCode string

// Category groups reason codes by how a caller should react.
type Category string

const (
	// CategoryStructural: the proposal itself is malformed. Fix and resubmit.
	CategoryStructural Category = "structural"
	// CategoryPolicy: a well-formed proposal the user's governance state rejects.
	CategoryPolicy Category = "policy"
	// CategoryToken: explain-token hand-off failed.
	CategoryToken Category = "token"
	// CategoryFatal: the engine could not decide; treated as a denial.
	CategoryFatal Category = "fatal"
	// CategoryNone: the decision admitted the trade.
	CategoryNone Category = "none"
)

const (
	ReasonAdmitted ReasonCode = "ADMITTED"

	// Structural.
	ReasonInvalidAction            ReasonCode = "INVALID_ACTION"
	ReasonInvalidPair              ReasonCode = "INVALID_PAIR"
	ReasonStopLossRequired         ReasonCode = "STOP_LOSS_REQUIRED"
	ReasonTakeProfitRequired       ReasonCode = "TAKE_PROFIT_REQUIRED"
	ReasonNonPositiveSize          ReasonCode = "NON_POSITIVE_SIZE"
	ReasonNonPositivePrice         ReasonCode = "NON_POSITIVE_PRICE"
	ReasonSizeOverLimit            ReasonCode = "SIZE_OVER_LIMIT"
	ReasonInvalidRisk              ReasonCode = "INVALID_RISK_PERCENT"
	ReasonInvertedLevels           ReasonCode = "INVERTED_LEVELS"
	ReasonStopTooClose             ReasonCode = "STOP_TOO_CLOSE"
	ReasonStopTooWide              ReasonCode = "STOP_TOO_WIDE"
	ReasonRewardRiskTooLow         ReasonCode = "REWARD_RISK_TOO_LOW"
	ReasonBrokerAccountRequired    ReasonCode = "BROKER_ACCOUNT_REQUIRED"
	ReasonServerProtectionDisabled ReasonCode = "SERVER_PROTECTION_DISABLED"
	ReasonFailSafeUnconfirmed      ReasonCode = "FAILSAFE_UNCONFIRMED"
	ReasonInvalidSnapshot          ReasonCode = "INVALID_SNAPSHOT"

	// Policy.
	ReasonKillSwitch           ReasonCode = "KILL_SWITCH_ACTIVE"
	ReasonPaused               ReasonCode = "PAUSED"
	ReasonManualMode           ReasonCode = "MANUAL_MODE"
	ReasonProbationFailed      ReasonCode = "PROBATION_FAILED"
	ReasonProbationUnavailable ReasonCode = "PROBATION_UNAVAILABLE"
	ReasonRiskPerTrade         ReasonCode = "RISK_PER_TRADE_EXCEEDED"
	ReasonBudgetBreached       ReasonCode = "BUDGET_BREACHED"
	ReasonDailyLossLimit       ReasonCode = "DAILY_LOSS_LIMIT"
	ReasonOpenPositions        ReasonCode = "MAX_OPEN_POSITIONS"
	ReasonAnomaly              ReasonCode = "ANOMALY_DETECTED"
	ReasonDrift                ReasonCode = "CONSENSUS_DRIFT"
	ReasonRuleDenied           ReasonCode = "RULE_DENIED"

	// Token.
	ReasonTokenMissing             ReasonCode = "TOKEN_MISSING"
	ReasonTokenUnknown             ReasonCode = "TOKEN_UNKNOWN"
	ReasonTokenUsed                ReasonCode = "TOKEN_ALREADY_USED"
	ReasonTokenExpired             ReasonCode = "TOKEN_EXPIRED"
	ReasonTokenUserMismatch        ReasonCode = "TOKEN_USER_MISMATCH"
	ReasonTokenFingerprintMismatch ReasonCode = "TOKEN_FINGERPRINT_MISMATCH"

	// Fatal.
	ReasonInternal ReasonCode = "INTERNAL_ERROR"
)

// Category classifies the code.
func (c ReasonCode) Category() Category {
	switch c {
	case ReasonAdmitted:
		return CategoryNone
	case ReasonInvalidAction, ReasonInvalidPair, ReasonStopLossRequired, ReasonTakeProfitRequired,
		ReasonNonPositiveSize, ReasonNonPositivePrice, ReasonSizeOverLimit, ReasonInvalidRisk, ReasonInvertedLevels,
		ReasonStopTooClose, ReasonStopTooWide, ReasonRewardRiskTooLow, ReasonBrokerAccountRequired,
		ReasonServerProtectionDisabled, ReasonFailSafeUnconfirmed, ReasonInvalidSnapshot:
		return CategoryStructural
	case ReasonTokenMissing, ReasonTokenUnknown, ReasonTokenUsed, ReasonTokenExpired,
		ReasonTokenUserMismatch, ReasonTokenFingerprintMismatch:
		return CategoryToken
	case ReasonInternal:
		return CategoryFatal
	default:
		return CategoryPolicy
	}
}
