package transcribe

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutribot/internal/models"
)

func newTestService(url string) *Service {
	return NewService(Config{
		BaseURL:  url,
		APIKey:   "key",
		Language: "pt",
		Timeout:  time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestTranscribe_SendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "pt", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "voice.ogg", header.Filename)
		assert.Equal(t, []byte("OggS..."), data)

		_, _ = w.Write([]byte(`{"text": " duas bananas "}`))
	}))
	defer srv.Close()

	text, err := newTestService(srv.URL).Transcribe(context.Background(), []byte("OggS..."), "voice.ogg")
	require.NoError(t, err)
	assert.Equal(t, "duas bananas", text)
}

func TestTranscribe_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "nope", http.StatusUnauthorized) }},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("not json")) }},
		{"empty text", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"text": "  "}`)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestService(srv.URL).Transcribe(context.Background(), []byte("x"), "a.ogg")
			require.ErrorIs(t, err, models.ErrTransport)
		})
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	_, err := newTestService("http://127.0.0.1:0").Transcribe(context.Background(), nil, "")
	require.ErrorIs(t, err, models.ErrTransport)
}
