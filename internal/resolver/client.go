package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"nutribot/internal/metrics"
	"nutribot/internal/models"
)

const systemPrompt = `Você é um nutricionista. Para a descrição de alimento e quantidade enviada, estime proteínas (g), carboidratos (g), gorduras (g) e calorias (kcal).

Responda SOMENTE com JSON válido neste formato exato:
{"recognized": true, "values": [proteinas, carboidratos, gorduras, calorias]}

Se você não reconhecer o alimento, responda:
{"recognized": false}

Use números decimais com ponto, nunca negativos, sem unidades.`

// Config configures the HTTP client.
type Config struct {
	BaseURL          string
	APIKey           string
	Model            string
	Timeout          time.Duration
	AllowLegacyArity bool
	CacheTTL         time.Duration
	RatePerSecond    float64
}

// Client resolves descriptions through a chat-completions endpoint.
// Recognized results are cached per normalized description.
type Client struct {
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
	cache      *cache.Cache
	metrics    *metrics.Metrics
	log        *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	burst := int(cfg.RatePerSecond * 2)
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		// The per-call context carries the real deadline; this is a backstop.
		httpClient: &http.Client{Timeout: cfg.Timeout + 5*time.Second},
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		metrics:    m,
		log:        logger.With("component", "resolver"),
	}
	if cfg.CacheTTL > 0 {
		c.cache = cache.New(cfg.CacheTTL, cfg.CacheTTL/2)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Resolve asks the model for an estimate. The call is bounded by
// Config.Timeout regardless of the caller's context.
func (c *Client) Resolve(ctx context.Context, description string) (Result, error) {
	key := normalize(description)
	if key == "" {
		return Result{Outcome: Unrecognized}, nil
	}

	if c.cache != nil {
		if cached, found := c.cache.Get(key); found {
			c.metrics.ResolverResult("cache_hit", 0)
			return cached.(Result), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.ResolverResult("transport_error", 0)
		return Result{}, fmt.Errorf("resolver: rate limit wait: %w: %w", models.ErrTransport, err)
	}

	start := time.Now()
	content, err := c.complete(ctx, description)
	took := time.Since(start)
	if err != nil {
		c.metrics.ResolverResult("transport_error", took)
		c.log.Warn("resolver call failed", "error", err, "took", took)
		return Result{}, err
	}

	result, err := DecodeReply(content, DecodeOptions{AllowLegacyArity: c.cfg.AllowLegacyArity})
	if err != nil {
		c.metrics.ResolverResult("transport_error", took)
		c.log.Warn("resolver reply rejected", "error", err, "reply", truncate(content, 200))
		return Result{}, err
	}

	c.metrics.ResolverResult(result.Outcome.String(), took)
	if result.Outcome == Recognized && c.cache != nil {
		c.cache.Set(key, result, cache.DefaultExpiration)
	}
	return result, nil
}

func (c *Client) complete(ctx context.Context, description string) (string, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Nutrientes para: " + description},
		},
		Temperature:    0,
		MaxTokens:      200,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("resolver: failed to marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("resolver: failed to create HTTP request: %w: %w", models.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolver: HTTP request failed: %w: %w", models.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("resolver: request failed with status %d: %s: %w", resp.StatusCode, string(body), models.ErrTransport)
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("resolver: failed to decode response: %w: %w", models.ErrTransport, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("resolver: response has no choices: %w", models.ErrTransport)
	}

	return completion.Choices[0].Message.Content, nil
}

func normalize(description string) string {
	return strings.ToLower(strings.Join(strings.Fields(description), " "))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
