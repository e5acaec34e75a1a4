package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/credora/credora/internal/signals"
)

const defaultInferenceTimeout = 10 * time.Second

type inferenceRequest struct {
	WalletAddress    string  `json:"walletAddress"`
	Balance          float64 `json:"balance"`
	TransactionCount int     `json:"transactionCount"`
	LastActivity     string  `json:"lastActivity"`
}

type inferenceResponse struct {
	CreditScore  int     `json:"creditScore"`
	RiskLevel    string  `json:"riskLevel"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"modelVersion"`
	Factors      []struct {
		Factor string  `json:"factor"`
		Impact Impact  `json:"impact"`
		Weight float64 `json:"weight"`
	} `json:"factors"`
}

// RemoteEngine delegates classification to an HTTP inference backend.
type RemoteEngine struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewRemoteEngine builds a RemoteEngine posting to url.
func NewRemoteEngine(url string, timeout time.Duration) *RemoteEngine {
	if timeout <= 0 {
		timeout = defaultInferenceTimeout
	}
	return &RemoteEngine{url: url, client: &http.Client{Timeout: timeout}, now: time.Now}
}

func (e *RemoteEngine) Mode() string { return ModeRemote }

func (e *RemoteEngine) Classify(ctx context.Context, s signals.Signals) (Result, error) {
	payload, err := json.Marshal(inferenceRequest{
		WalletAddress:    s.Address,
		Balance:          s.Balance.InexactFloat64(),
		TransactionCount: s.TransactionCount,
		LastActivity:     s.LastActivity.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%w: HTTP %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("%w: decode: %v", ErrUpstreamUnavailable, err)
	}

	score := clampScore(out.CreditScore)
	tier := TierForScore(score)
	confidence := out.Confidence
	if confidence < 0 || confidence > 1 {
		confidence = weightedConfidence
	}
	version := out.ModelVersion
	if version == "" {
		version = WeightedModelVersion
	}

	factors := make([]Factor, 0, len(out.Factors))
	for _, f := range out.Factors {
		factors = append(factors, Factor{
			Name:        f.Factor,
			Impact:      f.Impact,
			Weight:      clampWeight(f.Weight),
			Description: DescribeFactor(f.Factor, f.Impact),
		})
	}

	return Result{
		Tier:         tier,
		NumericScore: &score,
		Confidence:   confidence,
		Factors:      factors,
		ModelVersion: version,
		ComputedAt:   e.now().UTC(),
		BackendTier:  out.RiskLevel,
	}, nil
}

func clampWeight(w float64) float64 {
	switch {
	case w < 0:
		return 0
	case w > 1:
		return 1
	default:
		return w
	}
}
