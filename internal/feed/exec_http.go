package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// ExecHTTPGateway talks to an execution gateway service that relays swaps and
// bridge transfers to the chains. Submission returns a reference immediately;
// confirmation polls the gateway until the operation reaches a terminal state.
// It implements both domain.TradeExecutor and domain.BridgeExecutor.
type ExecHTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

var (
	_ domain.TradeExecutor  = (*ExecHTTPGateway)(nil)
	_ domain.BridgeExecutor = (*ExecHTTPGateway)(nil)
)

func NewExecHTTPGateway(baseURL, apiKey string, timeout time.Duration, limiter *rate.Limiter) *ExecHTTPGateway {
	return &ExecHTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

type swapSubmission struct {
	Venue          string  `json:"venue"`
	Chain          string  `json:"chain"`
	Asset          string  `json:"asset"`
	Side           string  `json:"side"`
	AmountUSD      float64 `json:"amount_usd"`
	MaxSlippagePct float64 `json:"max_slippage_pct"`
}

type transferSubmission struct {
	SourceChain string  `json:"source_chain"`
	TargetChain string  `json:"target_chain"`
	Asset       string  `json:"asset"`
	AmountUSD   float64 `json:"amount_usd"`
}

type submitResponse struct {
	Ref string `json:"ref"`
}

type statusResponse struct {
	Ref       string  `json:"ref"`
	Status    string  `json:"status"`
	FilledUSD float64 `json:"filled_usd"`
	CostUSD   float64 `json:"cost_usd"`
	Reason    string  `json:"reason"`
}

func (g *ExecHTTPGateway) SubmitSwap(ctx context.Context, req domain.SwapRequest) (domain.StepReceipt, error) {
	ref, err := g.submit(ctx, "/v1/swaps", swapSubmission{
		Venue:          string(req.Venue),
		Chain:          string(req.Chain),
		Asset:          req.Asset,
		Side:           string(req.Side),
		AmountUSD:      req.AmountUSD,
		MaxSlippagePct: req.MaxSlippagePct,
	})
	if err != nil {
		return domain.StepReceipt{}, fmt.Errorf("feed: submit swap: %w", err)
	}
	return domain.StepReceipt{Ref: ref, Kind: domain.StepSwap, SubmittedAt: time.Now()}, nil
}

func (g *ExecHTTPGateway) ConfirmSwap(ctx context.Context, receipt domain.StepReceipt) (domain.StepResult, error) {
	return g.confirm(ctx, "/v1/swaps/", receipt)
}

func (g *ExecHTTPGateway) SubmitTransfer(ctx context.Context, quote domain.BridgeQuote) (domain.StepReceipt, error) {
	ref, err := g.submit(ctx, "/v1/transfers", transferSubmission{
		SourceChain: string(quote.SourceChain),
		TargetChain: string(quote.TargetChain),
		Asset:       quote.Asset,
		AmountUSD:   quote.AmountUSD,
	})
	if err != nil {
		if isUnavailable(err) {
			return domain.StepReceipt{}, fmt.Errorf("feed: submit transfer: %w", domain.ErrBridgeUnavailable)
		}
		return domain.StepReceipt{}, fmt.Errorf("feed: submit transfer: %w", err)
	}
	return domain.StepReceipt{Ref: ref, Kind: domain.StepBridge, SubmittedAt: time.Now()}, nil
}

func (g *ExecHTTPGateway) ConfirmTransfer(ctx context.Context, receipt domain.StepReceipt) (domain.StepResult, error) {
	return g.confirm(ctx, "/v1/transfers/", receipt)
}

func (g *ExecHTTPGateway) submit(ctx context.Context, path string, payload any) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return "", statusError{resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if out.Ref == "" {
		return "", fmt.Errorf("empty ref")
	}
	return out.Ref, nil
}

// confirm polls the gateway for the operation's status. A non-terminal answer
// maps to StepPending so the caller keeps polling.
func (g *ExecHTTPGateway) confirm(ctx context.Context, path string, receipt domain.StepReceipt) (domain.StepResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path+receipt.Ref, nil)
	if err != nil {
		return domain.StepResult{}, fmt.Errorf("feed: confirm request: %w", err)
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.StepResult{}, fmt.Errorf("feed: confirm %s: %w", receipt.Ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.StepResult{}, fmt.Errorf("feed: confirm %s: status %d", receipt.Ref, resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.StepResult{}, fmt.Errorf("feed: confirm decode %s: %w", receipt.Ref, err)
	}

	result := domain.StepResult{
		Ref:       receipt.Ref,
		FilledUSD: body.FilledUSD,
		CostUSD:   body.CostUSD,
		Reason:    domain.RejectReason(body.Reason),
	}
	switch body.Status {
	case "succeeded":
		result.Status = domain.StepSucceeded
	case "failed":
		result.Status = domain.StepFailed
	default:
		result.Status = domain.StepPending
	}
	return result, nil
}

// statusError marks gateway responses that indicate a temporarily unavailable
// route rather than a malformed request.
type statusError struct {
	code int
}

func (e statusError) Error() string { return fmt.Sprintf("status %d", e.code) }

func isUnavailable(err error) bool {
	var se statusError
	return errors.As(err, &se)
}
