package credit

import (
	"time"

	"github.com/credora/credora/internal/scoring"
)

// WalletData echoes the signals a score was computed from.
type WalletData struct {
	Balance          string    `json:"balance"`
	TransactionCount int       `json:"transactionCount"`
	LastActivity     time.Time `json:"lastActivity"`
}

// ScoreResponse is returned by GetScore. CreditScore holds the tier name in
// rule mode and the numeric score otherwise.
type ScoreResponse struct {
	Wallet       string           `json:"wallet"`
	CreditScore  any              `json:"creditScore"`
	RiskLevel    scoring.Tier     `json:"riskLevel"`
	Confidence   float64          `json:"confidence"`
	Factors      []scoring.Factor `json:"factors"`
	WalletData   WalletData       `json:"walletData"`
	Timestamp    time.Time        `json:"timestamp"`
	ModelVersion string           `json:"modelVersion"`
}

// BatchItem is one entry of a GetScores result.
type BatchItem struct {
	Wallet string         `json:"wallet"`
	Score  *ScoreResponse `json:"score,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Status reports the orchestrator state.
type Status struct {
	Initialized       bool `json:"initialized"`
	PipelineConnected bool `json:"pipelineConnected"`
	SubscriberCount   int  `json:"subscriberCount"`
}
