package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// CloudinaryUploader posts files to Cloudinary with an unsigned upload
// preset. Calls go through a circuit breaker so a failing media host does
// not tie up request handlers.
type CloudinaryUploader struct {
	endpoint string
	preset   string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker
	log      *zap.Logger
}

type BreakerSettings struct {
	MaxFailures uint32
	Timeout     time.Duration
}

func NewCloudinaryUploader(cloud, preset string, bs BreakerSettings, log *zap.Logger) *CloudinaryUploader {
	return newCloudinary(fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/auto/upload", cloud), preset, bs, log)
}

func newCloudinary(endpoint, preset string, bs BreakerSettings, log *zap.Logger) *CloudinaryUploader {
	if bs.MaxFailures == 0 {
		bs.MaxFailures = 5
	}
	st := gobreaker.Settings{
		Name:        "cloudinary",
		MaxRequests: 1,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &CloudinaryUploader{
		endpoint: endpoint,
		preset:   preset,
		client:   &http.Client{Timeout: 60 * time.Second},
		cb:       gobreaker.NewCircuitBreaker(st),
		log:      log,
	}
}

type cloudinaryResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (u *CloudinaryUploader) Upload(ctx context.Context, name, contentType string, data []byte) (Result, error) {
	out, err := u.cb.Execute(func() (interface{}, error) {
		return u.post(ctx, name, data)
	})
	if err != nil {
		u.log.Warn("cloudinary upload failed", zap.String("name", name), zap.Error(err))
		return Result{}, err
	}
	return Result{URL: out.(string)}, nil
}

func (u *CloudinaryUploader) post(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("upload_preset", u.preset); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var parsed cloudinaryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("cloudinary: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || parsed.SecureURL == "" {
		msg := http.StatusText(resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("cloudinary: upload rejected (status %d): %s", resp.StatusCode, msg)
	}
	return parsed.SecureURL, nil
}
