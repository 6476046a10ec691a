package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound means the source has no bytes for a ref.
var ErrNotFound = errors.New("asset not found")

// Source yields the encoded bytes of an audio ref.
type Source interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// validRef rejects refs that would escape a directory or bucket prefix.
func validRef(ref string) error {
	if ref == "" || ref == "." || ref == ".." || strings.ContainsAny(ref, `/\`) {
		return fmt.Errorf("invalid audio ref %q", ref)
	}
	return nil
}

// HTTPSource fetches GET {BaseURL}/audio/{ref}.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSource creates a source for the repository at baseURL.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := validRef(ref); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/audio/"+url.PathEscape(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("fetch %s: %w", ref, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch %s: status %d: %s", ref, resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// DirSource reads refs as files in a local directory.
type DirSource struct {
	Dir string
}

func (s DirSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := validRef(ref); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", ref, ErrNotFound)
	}
	return data, err
}

// MinioConfig locates audio objects in an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	Region    string
}

// MinioSource reads refs as objects under a bucket prefix.
type MinioSource struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioSource creates the client. It does not contact the server.
func NewMinioSource(cfg MinioConfig) (*MinioSource, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioSource{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *MinioSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := validRef(ref); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.prefix+ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", ref, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("get object %s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("read object %s: %w", ref, err)
	}
	return data, nil
}
