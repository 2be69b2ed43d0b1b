package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/alejandrodnm/wagerbot/internal/ports"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	defaultRatePerSec = 2
	defaultBurst      = 2

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client es el HTTP client del proveedor de apuestas con rate limiting y
// retries. Los veredictos del proveedor (incluidos HTTP 4xx/5xx al colocar)
// vuelven como código de estado; solo los fallos de transporte son error.
type Client struct {
	http    *http.Client
	base    string
	token   string
	limiter *rate.Limiter
	wait    time.Duration // base del backoff, configurable en tests
}

var _ ports.PlacementProvider = (*Client)(nil)

// NewClient crea un Client contra baseURL. ratePerSec <= 0 usa el límite por
// defecto.
func NewClient(baseURL, token string, ratePerSec float64, timeout time.Duration) *Client {
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		base:    strings.TrimRight(baseURL, "/"),
		token:   token,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), defaultBurst),
		wait:    baseRetryWait,
	}
}

// WithRetryWait cambia la base del backoff exponencial.
func (c *Client) WithRetryWait(d time.Duration) *Client {
	c.wait = d
	return c
}

type placeBody struct {
	EventID        string          `json:"event_id"`
	Side           domain.Side     `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Stake          decimal.Decimal `json:"stake"`
	Currency       string          `json:"currency"`
	IdempotencyRef string          `json:"idempotency_ref"`
}

type placeResponse struct {
	WagerID string `json:"wager_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type statusResponse struct {
	Status     string `json:"status"`
	StatusText string `json:"status_text"`
}

type balanceResponse struct {
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
}

// PlaceWager hace POST /wagers. Reintentar con el mismo idempotency ref es
// seguro: el proveedor lo reconoce como la misma apuesta.
func (c *Client) PlaceWager(ctx context.Context, req domain.PlaceRequest) (domain.PlaceResult, error) {
	body := placeBody{
		EventID:        req.EventID,
		Side:           req.Side,
		Price:          req.Price,
		Stake:          req.Stake,
		Currency:       req.Currency,
		IdempotencyRef: req.IdempotencyRef,
	}

	code, raw, err := c.do(ctx, http.MethodPost, c.base+"/wagers", body, req.IdempotencyRef)
	if err != nil {
		return domain.PlaceResult{}, fmt.Errorf("provider.PlaceWager %s: %w", req.EventID, err)
	}
	if code < 200 || code >= 300 {
		return domain.PlaceResult{
			Status:  domain.HTTPStatus(code),
			Message: truncate(string(raw), 200),
		}, nil
	}

	var resp placeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.PlaceResult{}, fmt.Errorf("provider.PlaceWager %s: decode response: %w", req.EventID, err)
	}
	return domain.PlaceResult{
		RemoteRef: resp.WagerID,
		Status:    domain.ParseStatusCode(resp.Status),
		Message:   resp.Message,
	}, nil
}

// GetWagerStatus hace GET /wagers/{ref}. Cualquier respuesta no-2xx se trata
// como fallo transitorio: el poller vuelve a consultar en el siguiente intervalo.
func (c *Client) GetWagerStatus(ctx context.Context, ref string) (domain.StatusReport, error) {
	code, raw, err := c.do(ctx, http.MethodGet, c.base+"/wagers/"+url.PathEscape(ref), nil, "")
	if err != nil {
		return domain.StatusReport{}, fmt.Errorf("provider.GetWagerStatus %s: %w", ref, err)
	}
	if code < 200 || code >= 300 {
		return domain.StatusReport{}, fmt.Errorf("provider.GetWagerStatus %s: http %d: %s", ref, code, truncate(string(raw), 200))
	}

	var resp statusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.StatusReport{}, fmt.Errorf("provider.GetWagerStatus %s: decode response: %w", ref, err)
	}
	return domain.StatusReport{Code: resp.Status, Text: resp.StatusText}, nil
}

// GetBalance hace GET /balance?currency=.
func (c *Client) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	u := c.base + "/balance?currency=" + url.QueryEscape(currency)
	code, raw, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return decimal.Zero, fmt.Errorf("provider.GetBalance: %w", err)
	}
	if code < 200 || code >= 300 {
		return decimal.Zero, fmt.Errorf("provider.GetBalance: http %d: %s", code, truncate(string(raw), 200))
	}

	var resp balanceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("provider.GetBalance: decode response: %w", err)
	}
	return resp.Available, nil
}

// do ejecuta la petición con rate limiting y backoff exponencial. Reintenta
// errores de red y 429; el resto de códigos, y un 429 que persiste tras los
// reintentos, se devuelven al caller.
func (c *Client) do(ctx context.Context, method, target string, body any, idemKey string) (int, []byte, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal body: %w", err)
		}
		payload = b
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if idemKey != "" {
			req.Header.Set("Idempotency-Key", idemKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil || attempt == maxRetries {
				return 0, nil, fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		// El último 429 se devuelve tal cual: en PlaceWager acaba como HTTP_429.
		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRetries {
			resp.Body.Close()
			slog.Warn("provider: rate limited", "attempt", attempt+1, "url", target)
			c.sleep(ctx, attempt)
			continue
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return 0, nil, fmt.Errorf("read body: %w", err)
		}
		return resp.StatusCode, raw, nil
	}
	return 0, nil, fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.wait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
