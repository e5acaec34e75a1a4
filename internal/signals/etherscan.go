package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const defaultEtherscanURL = "https://api.etherscan.io/v2/api"

// EtherscanSource reads balance and transaction history from the Etherscan v2
// account API.
type EtherscanSource struct {
	baseURL string
	apiKey  string
	chainID string
	client  *http.Client
	now     func() time.Time
}

// NewEtherscanSource builds a source. An empty baseURL selects the public endpoint.
func NewEtherscanSource(baseURL, apiKey, chainID string) *EtherscanSource {
	if baseURL == "" {
		baseURL = defaultEtherscanURL
	}
	if chainID == "" {
		chainID = "1"
	}
	return &EtherscanSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		chainID: chainID,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
}

type etherscanEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Fetch implements Source.
func (e *EtherscanSource) Fetch(ctx context.Context, address string) (Signals, error) {
	var bal etherscanEnvelope
	if err := e.get(ctx, e.query("balance", address), &bal); err != nil {
		return Signals{}, fmt.Errorf("%w: balance: %v", ErrUpstreamUnavailable, err)
	}
	if bal.Status != "1" {
		return Signals{}, fmt.Errorf("%w: balance: %s", ErrUpstreamUnavailable, bal.Message)
	}
	var weiText string
	if err := json.Unmarshal(bal.Result, &weiText); err != nil {
		return Signals{}, fmt.Errorf("%w: balance result: %v", ErrUpstreamUnavailable, err)
	}
	wei, err := decimal.NewFromString(weiText)
	if err != nil {
		return Signals{}, fmt.Errorf("%w: balance value: %v", ErrUpstreamUnavailable, err)
	}

	out := Signals{
		Address:      address,
		Balance:      wei.Shift(-18),
		LastActivity: e.now().UTC(),
	}

	var txs etherscanEnvelope
	if err := e.get(ctx, e.query("txlist", address), &txs); err != nil {
		return Signals{}, fmt.Errorf("%w: txlist: %v", ErrUpstreamUnavailable, err)
	}
	if txs.Status != "1" {
		if txs.Message == "No transactions found" {
			return out, nil
		}
		return Signals{}, fmt.Errorf("%w: txlist: %s", ErrUpstreamUnavailable, txs.Message)
	}

	var list []struct {
		TimeStamp string `json:"timeStamp"`
	}
	if err := json.Unmarshal(txs.Result, &list); err != nil {
		return Signals{}, fmt.Errorf("%w: txlist result: %v", ErrUpstreamUnavailable, err)
	}
	out.TransactionCount = len(list)
	if n := len(list); n > 0 {
		if ts, err := strconv.ParseInt(list[n-1].TimeStamp, 10, 64); err == nil {
			out.LastActivity = time.Unix(ts, 0).UTC()
		}
	}
	return out, nil
}

func (e *EtherscanSource) query(action, address string) string {
	q := url.Values{}
	q.Set("chainid", e.chainID)
	q.Set("module", "account")
	q.Set("action", action)
	q.Set("address", address)
	if action == "balance" {
		q.Set("tag", "latest")
	} else {
		q.Set("startblock", "0")
		q.Set("endblock", "99999999")
		q.Set("sort", "asc")
	}
	q.Set("apikey", e.apiKey)
	return e.baseURL + "?" + q.Encode()
}

func (e *EtherscanSource) get(ctx context.Context, target string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}
