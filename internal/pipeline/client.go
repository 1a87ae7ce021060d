package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pdf2audio/internal/model"

	"github.com/rs/zerolog"
)

// Client calls the conversion service over HTTP. The service streams NDJSON
// progress events and finishes with a record carrying the encoded audio.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient builds a pipeline client for the given service base URL. The
// request deadline comes from the caller's context, so no client timeout is set.
func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		endpoint:   strings.TrimRight(baseURL, "/") + "/convert",
		httpClient: http.DefaultClient,
		logger:     logger.With().Str("service", "PipelineClient").Logger(),
	}
}

type convertRequest struct {
	PDFBase64      string  `json:"pdf_base64"`
	VoiceProvider  string  `json:"voice_provider"`
	VoiceType      string  `json:"voice_type"`
	ReadingSpeed   float64 `json:"reading_speed"`
	IncludeSummary bool    `json:"include_summary"`
	ConversionMode string  `json:"conversion_mode"`
}

type convertEvent struct {
	Progress    *int   `json:"progress,omitempty"`
	Done        bool   `json:"done,omitempty"`
	AudioBase64 string `json:"audio_base64,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Process submits the document and consumes the progress stream until the
// final event. onProgress is invoked for every progress record received.
func (c *Client) Process(ctx context.Context, source []byte, opts model.JobOptions, onProgress ProgressFunc) ([]byte, error) {
	reqBody, err := json.Marshal(convertRequest{
		PDFBase64:      base64.StdEncoding.EncodeToString(source),
		VoiceProvider:  string(opts.VoiceProvider),
		VoiceType:      opts.VoiceType,
		ReadingSpeed:   opts.ReadingSpeed,
		IncludeSummary: opts.IncludeSummary,
		ConversionMode: string(opts.ConversionMode),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal conversion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build conversion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call conversion service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("conversion service status %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	// Final event carries the whole audio payload in one line.
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev convertEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			c.logger.Warn().Err(err).Msg("Skipping malformed conversion event")
			continue
		}
		switch {
		case ev.Error != "":
			return nil, fmt.Errorf("conversion service error: %s", ev.Error)
		case ev.Done:
			audio, err := base64.StdEncoding.DecodeString(ev.AudioBase64)
			if err != nil {
				return nil, fmt.Errorf("decode audio payload: %w", err)
			}
			return audio, nil
		case ev.Progress != nil && onProgress != nil:
			onProgress(*ev.Progress)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read conversion stream: %w", err)
	}
	return nil, fmt.Errorf("conversion stream ended without a result")
}
