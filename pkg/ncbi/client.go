// Package ncbi provides a small SDK for NCBI E-utilities (PubMed and PubMed Central).
//
// Like the other API clients in pkg/, it owns transport concerns only:
//   - one rate limit for all endpoints (NCBI allows 3 rps without a key, 10 rps with one)
//   - retries with 429 handling
//   - error classification for human-readable diagnostics
//
// Summarisation and prompt building live in pkg/tools/std.
package ncbi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ilkoid/poncho-writer/pkg/config"
	"golang.org/x/time/rate"
)

// ErrorType представляет тип ошибки при работе с E-utilities.
type ErrorType int

const (
	ErrUnknown ErrorType = iota
	ErrAuthFailed
	ErrTimeout
	ErrNetwork
	ErrRateLimit
)

// String возвращает строковое представление типа ошибки.
func (e ErrorType) String() string {
	switch e {
	case ErrAuthFailed:
		return "authentication_failed"
	case ErrTimeout:
		return "timeout"
	case ErrNetwork:
		return "network_error"
	case ErrRateLimit:
		return "rate_limit"
	default:
		return "unknown"
	}
}

// HumanMessage возвращает человекочитаемое сообщение для типа ошибки.
func (e ErrorType) HumanMessage() string {
	switch e {
	case ErrAuthFailed:
		return "NCBI API ключ недействителен. Проверьте ncbi.api_key в конфигурации."
	case ErrTimeout:
		return "Превышено время ожидания ответа NCBI."
	case ErrNetwork:
		return "Сервер NCBI недоступен. Проверьте подключение к интернету."
	case ErrRateLimit:
		return "Превышен лимит запросов NCBI. Подождите перед следующей попыткой."
	default:
		return "Неизвестная ошибка при обращении к NCBI E-utilities."
	}
}

// HTTPClient интерфейс для выполнения HTTP запросов.
//
// Стандартный *http.Client реализует этот интерфейс.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client — клиент NCBI E-utilities.
type Client struct {
	baseURL       string
	apiKey        string
	email         string
	tool          string
	retryAttempts int
	httpClient    HTTPClient

	// limiter общий для всех endpoint: лимит NCBI считается на ключ, а не на утилиту.
	limiter *rate.Limiter
}

// NewFromConfig создает клиент из конфигурации.
//
// Поля с нулевыми значениями используют дефолты из NCBIConfig.GetDefaults().
func NewFromConfig(cfg config.NCBIConfig) (*Client, error) {
	cfg = cfg.GetDefaults()

	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid ncbi.timeout format: %w", err)
	}

	// rate_limit задан в запросах в минуту, rate.Limit — в секунду.
	limit := rate.Limit(float64(cfg.RateLimit) / 60.0)

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		email:         cfg.Email,
		tool:          cfg.Tool,
		retryAttempts: cfg.RetryAttempts,
		httpClient:    &http.Client{Timeout: timeout},
		limiter:       rate.NewLimiter(limit, cfg.BurstLimit),
	}, nil
}

// WithHTTPClient подменяет HTTP клиент (тесты, прокси).
func (c *Client) WithHTTPClient(hc HTTPClient) *Client {
	c.httpClient = hc
	return c
}

// ClassifyError классифицирует ошибку по типу для лучшей диагностики.
func (c *Client) ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrUnknown
	}

	errMsg := err.Error()
	errMsgLower := strings.ToLower(errMsg)

	switch {
	case strings.Contains(errMsg, "status 401") || strings.Contains(errMsg, "status 403") ||
		strings.Contains(errMsgLower, "api key invalid"):
		return ErrAuthFailed
	case strings.Contains(errMsgLower, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return ErrTimeout
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host"):
		return ErrNetwork
	case strings.Contains(errMsg, "429") || strings.Contains(errMsg, "Too Many Requests"):
		return ErrRateLimit
	default:
		return ErrUnknown
	}
}

// get выполняет GET запрос к endpoint (например, "esearch.fcgi") с retry и rate limiting.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	if c.email != "" {
		params.Set("email", c.email)
	}
	if c.tool != "" {
		params.Set("tool", c.tool)
	}
	reqURL := c.baseURL + "/" + endpoint + "?" + params.Encode()

	var lastErr error
	for i := 0; i < c.retryAttempts; i++ {
		// Ждем разрешения от лимитера (блокирует горутину, если превысили лимит)
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue // Сетевая ошибка, пробуем еще
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("ncbi api error: status 429")
			retryAfter := 1 * time.Second
			if s := resp.Header.Get("Retry-After"); s != "" {
				if sec, err := strconv.Atoi(s); err == nil {
					retryAfter = time.Duration(sec) * time.Second
				}
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryAfter):
				continue
			}
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("ncbi api error: status %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ncbi api error: status %d, body: %s", resp.StatusCode, truncate(string(body), 200))
		}
		if readErr != nil {
			lastErr = fmt.Errorf("read body: %w", readErr)
			continue
		}

		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded, last error: %v", lastErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
