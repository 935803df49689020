package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/SamFelix03/OnlyYield/pkg/retry"
	"golang.org/x/time/rate"
)

// ClientConfig holds bridge provider configuration.
type ClientConfig struct {
	Logger     *slog.Logger
	BaseURL    string
	Integrator string
	Slippage   float64

	HTTPClient        *http.Client
	Retry             retry.Config
	RequestsPerSecond float64
}

func (c *ClientConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}
	if c.Slippage <= 0 || c.Slippage >= 1 {
		return fmt.Errorf("slippage must be in (0, 1)")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 2
	}
	return nil
}

// Client talks to the LI.FI HTTP API. All requests go through a rate
// limiter and bounded retries; the provider throttles aggressively
// during status polling.
type Client struct {
	log        *slog.Logger
	cfg        ClientConfig
	httpc      *http.Client
	limiter    *rate.Limiter
	baseURL    string
	integrator string
	slippage   float64
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		log:        cfg.Logger,
		cfg:        cfg,
		httpc:      cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		integrator: cfg.Integrator,
		slippage:   cfg.Slippage,
	}, nil
}

// httpStatusError carries the response code so the retry layer can
// distinguish throttling from hard failures.
type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("bridge api returned %d: %s", e.code, e.body)
}

func (e *httpStatusError) StatusCode() int {
	return e.code
}

// QuoteRoute asks the provider for routes and returns the best one.
func (c *Client) QuoteRoute(ctx context.Context, req RouteRequest) (*Route, error) {
	if req.FromAmount == nil || req.FromAmount.Sign() <= 0 {
		return nil, fmt.Errorf("from amount must be positive")
	}

	body := map[string]any{
		"fromChainId":      req.FromChainID,
		"toChainId":        req.ToChainID,
		"fromTokenAddress": req.FromTokenAddress,
		"toTokenAddress":   req.ToTokenAddress,
		"fromAddress":      req.FromAddress,
		"toAddress":        req.ToAddress,
		"fromAmount":       req.FromAmount.String(),
		"options": map[string]any{
			"integrator": c.integrator,
			"slippage":   c.slippage,
		},
	}

	var resp struct {
		Routes []json.RawMessage `json:"routes"`
	}
	if err := c.post(ctx, "/advanced/routes", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to quote route: %w", err)
	}
	if len(resp.Routes) == 0 {
		return nil, ErrNoRoute
	}
	return parseRoute(resp.Routes[0])
}

func parseRoute(raw json.RawMessage) (*Route, error) {
	var decoded struct {
		ID    string            `json:"id"`
		Steps []json.RawMessage `json:"steps"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode route: %w", err)
	}
	route := &Route{ID: decoded.ID}
	for _, rawStep := range decoded.Steps {
		var step struct {
			ID   string `json:"id"`
			Tool string `json:"tool"`
		}
		if err := json.Unmarshal(rawStep, &step); err != nil {
			return nil, fmt.Errorf("failed to decode route step: %w", err)
		}
		route.Steps = append(route.Steps, Step{ID: step.ID, Tool: step.Tool, Raw: rawStep})
	}
	if len(route.Steps) == 0 {
		return nil, fmt.Errorf("route %s has no steps", route.ID)
	}
	route.Tool = route.Steps[0].Tool
	return route, nil
}

// StepTransaction asks the provider to build the transaction for one
// route step.
func (c *Client) StepTransaction(ctx context.Context, step Step) (*TxRequest, error) {
	var resp struct {
		TransactionRequest struct {
			To      string `json:"to"`
			Data    string `json:"data"`
			Value   string `json:"value"`
			ChainID int64  `json:"chainId"`
		} `json:"transactionRequest"`
	}
	if err := c.post(ctx, "/advanced/stepTransaction", json.RawMessage(step.Raw), &resp); err != nil {
		return nil, fmt.Errorf("failed to build step transaction: %w", err)
	}
	if resp.TransactionRequest.To == "" || resp.TransactionRequest.Data == "" {
		return nil, fmt.Errorf("provider returned no transaction for step %s", step.ID)
	}

	value, err := parseAmount(resp.TransactionRequest.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid step transaction value: %w", err)
	}
	return &TxRequest{
		To:      resp.TransactionRequest.To,
		Data:    resp.TransactionRequest.Data,
		Value:   value,
		ChainID: resp.TransactionRequest.ChainID,
	}, nil
}

// GetStatus fetches the transfer state for a sent bridge transaction.
func (c *Client) GetStatus(ctx context.Context, txHash, tool string, fromChainID, toChainID int64) (*Status, error) {
	params := url.Values{}
	params.Set("txHash", txHash)
	if tool != "" {
		params.Set("bridge", tool)
	}
	params.Set("fromChain", strconv.FormatInt(fromChainID, 10))
	params.Set("toChain", strconv.FormatInt(toChainID, 10))

	var resp struct {
		Status           string `json:"status"`
		LifiExplorerLink string `json:"lifiExplorerLink"`
		Sending          struct {
			TxHash string `json:"txHash"`
			TxLink string `json:"txLink"`
		} `json:"sending"`
		Receiving struct {
			TxHash string `json:"txHash"`
			TxLink string `json:"txLink"`
		} `json:"receiving"`
	}
	if err := c.get(ctx, "/status?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch bridge status: %w", err)
	}

	status := &Status{
		SendingTxHash:   resp.Sending.TxHash,
		ReceivingTxHash: resp.Receiving.TxHash,
	}
	switch strings.ToUpper(resp.Status) {
	case "DONE":
		status.Kind = StatusDone
	case "FAILED", "INVALID":
		status.Kind = StatusFailed
	default:
		status.Kind = StatusPending
	}

	// The explorer link may live in a few places depending on the tool.
	switch {
	case resp.LifiExplorerLink != "":
		status.ExplorerLink = resp.LifiExplorerLink
	case resp.Receiving.TxLink != "":
		status.ExplorerLink = resp.Receiving.TxLink
	case resp.Sending.TxLink != "":
		status.ExplorerLink = resp.Sending.TxLink
	}
	return status, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return retry.Do(ctx, c.cfg.Retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req, out)
	})
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return retry.Do(ctx, c.cfg.Retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		return c.do(req, out)
	})
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{code: resp.StatusCode, body: truncate(string(body), 200)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func parseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
		if s == "" {
			return new(big.Int), nil
		}
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
