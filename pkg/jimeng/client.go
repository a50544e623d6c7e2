// Package jimeng — клиент Jimeng (Volcengine Visual API) для генерации изображений.
//
// Запросы подписываются HMAC-SHA256 по схеме Volcengine V4:
// ключ выводится цепочкой date → region → service → "request".
package jimeng

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ilkoid/poncho-writer/pkg/config"
)

// CodeSuccess — код успешного ответа Visual API.
const CodeSuccess = 10000

const (
	signAlgorithm = "HMAC-SHA256"
	signedHeaders = "content-type;host;x-content-sha256;x-date"
	action        = "CVProcess"
	apiVersion    = "2022-08-31"
)

// HTTPClient интерфейс для выполнения HTTP запросов.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client — клиент Jimeng.
type Client struct {
	accessKey  string
	secretKey  string
	endpoint   string
	host       string
	region     string
	service    string
	reqKey     string
	width      int
	height     int
	httpClient HTTPClient
	now        func() time.Time
}

// DrawOptions — параметры генерации. Нулевые значения берутся из конфигурации.
type DrawOptions struct {
	Width  int
	Height int
	Seed   int
}

// DrawResponse — ответ Visual API.
type DrawResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Data      struct {
		ImageURLs []string `json:"image_urls"`
	} `json:"data"`
}

// NewFromConfig создает клиент из конфигурации.
func NewFromConfig(cfg config.JimengConfig) (*Client, error) {
	cfg = cfg.GetDefaults()

	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("jimeng.access_key and jimeng.secret_key are required")
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid jimeng.endpoint: %q", cfg.Endpoint)
	}

	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid jimeng.timeout format: %w", err)
	}

	return &Client{
		accessKey:  cfg.AccessKey,
		secretKey:  cfg.SecretKey,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		host:       u.Host,
		region:     cfg.Region,
		service:    cfg.Service,
		reqKey:     cfg.ReqKey,
		width:      cfg.Width,
		height:     cfg.Height,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}, nil
}

// WithHTTPClient подменяет HTTP клиент.
func (c *Client) WithHTTPClient(hc HTTPClient) *Client {
	c.httpClient = hc
	return c
}

// Draw генерирует изображение по prompt и возвращает URL результатов.
//
// Ответ с code != 10000 или без image_urls считается ошибкой.
func (c *Client) Draw(ctx context.Context, prompt string, opts DrawOptions) ([]string, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if opts.Width == 0 {
		opts.Width = c.width
	}
	if opts.Height == 0 {
		opts.Height = c.height
	}
	if opts.Seed == 0 {
		opts.Seed = -1
	}

	body, err := json.Marshal(map[string]any{
		"req_key":    c.reqKey,
		"prompt":     prompt,
		"width":      opts.Width,
		"height":     opts.Height,
		"seed":       opts.Seed,
		"return_url": true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	query := formatQuery(map[string]string{"Action": action, "Version": apiVersion})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?"+query, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range c.sign(query, body, c.now().UTC()) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jimeng request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jimeng api error: status %d, body: %s", resp.StatusCode, string(raw))
	}

	var dr DrawResponse
	if err := json.Unmarshal(raw, &dr); err != nil {
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}
	if dr.Code != CodeSuccess || len(dr.Data.ImageURLs) == 0 {
		return nil, fmt.Errorf("jimeng api returned code %d: %s", dr.Code, dr.Message)
	}

	return dr.Data.ImageURLs, nil
}

// sign возвращает заголовки подписи для POST / с заданным query и телом.
func (c *Client) sign(query string, body []byte, t time.Time) map[string]string {
	xDate := t.Format("20060102T150405Z")
	dateStamp := t.Format("20060102")
	payloadHash := sha256Hex(body)

	canonicalRequest := strings.Join([]string{
		http.MethodPost,
		"/",
		query,
		"content-type:application/json",
		"host:" + c.host,
		"x-content-sha256:" + payloadHash,
		"x-date:" + xDate,
		"",
		signedHeaders,
		payloadHash,
	}, "\n")

	credentialScope := strings.Join([]string{dateStamp, c.region, c.service, "request"}, "/")
	stringToSign := strings.Join([]string{
		signAlgorithm,
		xDate,
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveKey(c.secretKey, dateStamp, c.region, c.service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	return map[string]string{
		"X-Date":           xDate,
		"X-Content-Sha256": payloadHash,
		"Content-Type":     "application/json",
		"Authorization": fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
			signAlgorithm, c.accessKey, credentialScope, signedHeaders, signature),
	}
}

func deriveKey(secret, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte(secret), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "request")
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// formatQuery собирает query в отсортированном по ключу виде, как требует каноническая форма.
func formatQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + url.QueryEscape(params[k])
	}
	return strings.Join(parts, "&")
}
