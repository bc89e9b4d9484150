package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"stock-rotation-bot-go/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const recvWindow = "5000" // How long a signed request is valid in milliseconds

// RejectionError is a business-level rejection from the gateway (the order
// was understood but refused). The message is what the error classifier in
// the order manager works against.
type RejectionError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("gateway rejection %d: %s", e.Code, e.Message)
}

// Quote is the latest price snapshot for a single symbol.
type Quote struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"last_price"`
	PrevClose float64 `json:"prev_close"`
}

// Bar is one historical candle.
type Bar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// PositionInfo is one held position as reported by the gateway. The sell
// score is annotated upstream by the scoring service.
type PositionInfo struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	SellScore    int     `json:"sell_score"`
}

// AccountResponse is the gateway's view of capital and holdings.
type AccountResponse struct {
	Cash        float64        `json:"cash"`
	BuyingPower float64        `json:"buying_power"`
	TotalEquity float64        `json:"total_equity"`
	Positions   []PositionInfo `json:"positions"`
}

// SubmitOrderRequest is a new order submission.
type SubmitOrderRequest struct {
	Symbol        string
	Side          string
	Quantity      float64
	Price         float64
	ClientOrderID string
}

// SubmitOrderResponse is the gateway's acknowledgment of a submission.
type SubmitOrderResponse struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
}

// OpenOrder is one entry from the open-orders listing.
type OpenOrder struct {
	OrderID   string  `json:"order_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	Status    string  `json:"status"`
	CreatedAt int64   `json:"created_at"`
}

// GatewayClientInterface defines the interface for the broker gateway client.
type GatewayClientInterface interface {
	Ping() (int64, error)
	GetQuote(symbol string) (*Quote, error)
	GetHistory(symbol string, period string, count int) ([]Bar, error)
	GetAccount() (*AccountResponse, error)
	SubmitOrder(req *SubmitOrderRequest) (*SubmitOrderResponse, error)
	CancelOrder(orderID string) error
	ListOpenOrders() ([]OpenOrder, error)
}

// RestClient is a client for the broker gateway REST API.
// It implements the GatewayClientInterface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure RestClient implements the interface
var _ GatewayClientInterface = (*RestClient)(nil)

// NewRestClient creates a new broker gateway client.
func NewRestClient(cfg *config.Broker, logger *zap.Logger) *RestClient {
	client := resty.New().SetBaseURL(cfg.BaseURL)

	// The limiter enforces a minimum spacing between gateway requests so a
	// burst of dispatches does not trip the gateway's own rate limiting.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		limiter:   limiter,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest handles the actual request execution with rate limiting and retry logic.
// Transport-level failures and 429/5xx responses are retried with exponential
// backoff; 4xx responses surface as RejectionError for the caller to classify.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			var rejection RejectionError
			if jsonErr := json.Unmarshal(resp.Body(), &rejection); jsonErr == nil && rejection.Message != "" {
				return nil, &rejection
			}
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// Ping fetches the gateway server time. Used as a connectivity check at startup.
func (c *RestClient) Ping() (int64, error) {
	type serverTimeResponse struct {
		ServerTime int64 `json:"server_time"`
	}

	req := c.client.R().
		SetResult(&serverTimeResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*serverTimeResponse)
	return result.ServerTime, nil
}

// GetQuote fetches the latest quote for a symbol.
func (c *RestClient) GetQuote(symbol string) (*Quote, error) {
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&Quote{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/quote", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}

	return resp.Result().(*Quote), nil
}

// GetHistory fetches historical bars for a symbol, most recent last.
func (c *RestClient) GetHistory(symbol string, period string, count int) ([]Bar, error) {
	var bars []Bar

	req := c.client.R().
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"period": period,
			"count":  strconv.Itoa(count),
		}).
		SetResult(&bars)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/history", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get history for %s: %w", symbol, err)
	}

	return *resp.Result().(*[]Bar), nil
}

// GetAccount fetches the current cash, buying power and positions.
func (c *RestClient) GetAccount() (*AccountResponse, error) {
	req := c.client.R().
		SetHeader("X-API-KEY", c.apiKey).
		SetResult(&AccountResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/account", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return resp.Result().(*AccountResponse), nil
}

// SubmitOrder places a new order through the gateway.
func (c *RestClient) SubmitOrder(order *SubmitOrderRequest) (*SubmitOrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", order.Side)
	params.Set("quantity", strconv.FormatFloat(order.Quantity, 'f', -1, 64))
	params.Set("price", strconv.FormatFloat(order.Price, 'f', -1, 64))
	params.Set("client_order_id", order.ClientOrderID)
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	signature := c.sign(queryString)
	params.Set("signature", signature)

	req := c.client.R().
		SetHeader("X-API-KEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode()).
		SetResult(&SubmitOrderResponse{})

	ctx := context.Background()

	resp, err := c.doRequest(ctx, "POST", "/order", req)
	if err != nil {
		c.logger.Error("Failed to submit order",
			zap.Error(err),
			zap.String("symbol", order.Symbol),
			zap.String("side", order.Side),
		)
		return nil, err
	}

	result := resp.Result().(*SubmitOrderResponse)
	c.logger.Info("Successfully submitted order",
		zap.String("order_id", result.OrderID),
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.Float64("quantity", order.Quantity),
	)
	return result, nil
}

// CancelOrder cancels a previously submitted order.
func (c *RestClient) CancelOrder(orderID string) error {
	params := url.Values{}
	params.Set("order_id", orderID)
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	signature := c.sign(queryString)
	params.Set("signature", signature)

	req := c.client.R().
		SetHeader("X-API-KEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode())

	ctx := context.Background()

	if _, err := c.doRequest(ctx, "POST", "/order/cancel", req); err != nil {
		c.logger.Error("Failed to cancel order", zap.String("order_id", orderID), zap.Error(err))
		return err
	}

	c.logger.Info("Cancelled order", zap.String("order_id", orderID))
	return nil
}

// ListOpenOrders fetches all orders the gateway still considers open.
func (c *RestClient) ListOpenOrders() ([]OpenOrder, error) {
	var orders []OpenOrder

	req := c.client.R().
		SetHeader("X-API-KEY", c.apiKey).
		SetResult(&orders)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/orders/open", req)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}

	return *resp.Result().(*[]OpenOrder), nil
}
