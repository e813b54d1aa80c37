package certificate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Store keeps issued bundles. Upload returns a URL for the stored file.
type Store interface {
	Upload(ctx context.Context, fileID, filename string, data []byte) (string, error)
}

// Response is the JSON answer of the certificate function.
type Response struct {
	Success    bool   `json:"success"`
	Password   string `json:"password,omitempty"`
	ExpiryDate string `json:"expiryDate,omitempty"`
	FileID     string `json:"fileId,omitempty"`
	FileURL    string `json:"fileUrl,omitempty"`
	UID        string `json:"uid,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Service generates bundles and uploads them, keyed by the owner's uid.
type Service struct {
	store  Store
	opts   Options
	logger *slog.Logger
}

// NewService returns a Service. A nil logger logs nowhere.
func NewService(store Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{store: store, opts: opts, logger: logger}
}

// Issue generates a bundle for req and stores it under req.UID.
func (s *Service) Issue(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	bundle, err := Generate(req, s.opts)
	if err != nil {
		return nil, err
	}

	url, err := s.store.Upload(ctx, req.UID, bundle.Filename, bundle.PFX)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", bundle.Filename, err)
	}

	s.logger.Info("certificate issued",
		"uid", req.UID,
		"file", bundle.Filename,
		"serial", bundle.Certificate.SerialNumber.Text(16),
		"duration", time.Since(start))

	return &Response{
		Success:    true,
		Password:   bundle.Password,
		ExpiryDate: bundle.NotAfter.UTC().Format("2006-01-02T15:04:05.000Z"),
		FileID:     req.UID,
		FileURL:    url,
		UID:        req.UID,
	}, nil
}

// ErrorResponse renders err and picks its HTTP status: 400 for request
// problems, 500 for everything else.
func ErrorResponse(err error) (int, *Response) {
	status := http.StatusInternalServerError
	var in *InputError
	if errors.As(err, &in) {
		status = http.StatusBadRequest
	}
	return status, &Response{Success: false, Error: err.Error()}
}
