package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"nutribot/internal/metrics"
	"nutribot/internal/models"
)

// Transcriber turns a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Config configures the Whisper-compatible client.
type Config struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// Service calls a Whisper-compatible /audio/transcriptions endpoint.
type Service struct {
	httpClient *http.Client
	cfg        Config
	metrics    *metrics.Metrics
	log        *slog.Logger
}

func NewService(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	return &Service{
		httpClient: &http.Client{Timeout: cfg.Timeout + 5*time.Second},
		cfg:        cfg,
		metrics:    m,
		log:        logger.With("component", "transcribe"),
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads the audio and returns the recognized text. Every
// failure, including an empty transcript, wraps models.ErrTransport.
func (s *Service) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	text, err := s.transcribe(ctx, audio, filename)
	if err != nil {
		s.metrics.Transcription("error")
		s.log.Warn("transcription failed", "error", err, "bytes", len(audio))
		return "", err
	}
	s.metrics.Transcription("ok")
	return text, nil
}

func (s *Service) transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("transcribe: empty audio: %w", models.ErrTransport)
	}
	if filename == "" {
		filename = "voice.ogg"
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("transcribe: failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("transcribe: failed to copy audio data: %w", err)
	}
	if err := writer.WriteField("model", s.cfg.Model); err != nil {
		return "", fmt.Errorf("transcribe: failed to write model field: %w", err)
	}
	if s.cfg.Language != "" {
		if err := writer.WriteField("language", s.cfg.Language); err != nil {
			return "", fmt.Errorf("transcribe: failed to write language field: %w", err)
		}
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("transcribe: failed to write response format: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("transcribe: failed to close multipart writer: %w", err)
	}

	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("transcribe: failed to create request: %w: %w", models.ErrTransport, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: request failed: %w: %w", models.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("transcribe: API error (status %d): %s: %w", resp.StatusCode, string(errBody), models.ErrTransport)
	}

	var result transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("transcribe: failed to parse response: %w: %w", models.ErrTransport, err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", fmt.Errorf("transcribe: empty transcript: %w", models.ErrTransport)
	}
	return text, nil
}
