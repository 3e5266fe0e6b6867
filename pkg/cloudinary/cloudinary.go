package cloudinary

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/storage"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Store keeps archives as raw Cloudinary assets, one public id per key.
type Store struct {
	client     *cloudinary.Cloudinary
	folder     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New constructs a Cloudinary backed archive store.
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &Store{
		client:     cld,
		folder:     strings.Trim(cfg.Folder, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

func (s *Store) publicID(key string) (string, error) {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		return "", err
	}
	if s.folder == "" {
		return cleaned, nil
	}
	return s.folder + "/" + cleaned, nil
}

// Put uploads data, replacing any asset already stored under key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	publicID, err := s.publicID(key)
	if err != nil {
		return err
	}

	result, err := s.client.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:     publicID,
		ResourceType: string(api.File),
		Overwrite:    api.Bool(true),
		Invalidate:   api.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to upload asset: %w", err)
	}
	if result.Error.Message != "" {
		return fmt.Errorf("failed to upload asset: %s", result.Error.Message)
	}

	s.logger.Info().Str("public_id", result.PublicID).Int("bytes", len(data)).Msg("archive uploaded to cloudinary")
	return nil
}

// Get resolves the asset's delivery URL and downloads it.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	publicID, err := s.publicID(key)
	if err != nil {
		return nil, err
	}

	asset, err := s.client.Admin.Asset(ctx, admin.AssetParams{PublicID: publicID, AssetType: api.File})
	if err != nil {
		return nil, fmt.Errorf("failed to look up asset: %w", err)
	}
	if asset.Error.Message != "" || asset.SecureURL == "" {
		return nil, storage.ErrNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.SecureURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download asset: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, storage.ErrNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("download asset: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download asset: %w", err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	publicID, err := s.publicID(key)
	if err != nil {
		return err
	}

	result, err := s.client.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: string(api.File),
		Invalidate:   api.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if result.Result == "not found" {
		return storage.ErrNotFound
	}
	if result.Result != "ok" {
		return fmt.Errorf("failed to delete asset: %s", result.Error.Message)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := strings.Trim(prefix, "/")
	if s.folder != "" {
		fullPrefix = s.folder + "/" + fullPrefix
	}

	result, err := s.client.Admin.Assets(ctx, admin.AssetsParams{
		AssetType:  api.File,
		Prefix:     fullPrefix,
		MaxResults: 500,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	keys := make([]string, 0, len(result.Assets))
	for _, asset := range result.Assets {
		key := asset.PublicID
		if s.folder != "" {
			key = strings.TrimPrefix(key, s.folder+"/")
		}
		keys = append(keys, key)
	}
	return keys, nil
}
