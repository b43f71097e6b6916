// Package archive copies every assembled artifact to S3-compatible object
// storage, keyed by project and round.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/pagesmith/internal/artifact"
)

// ManifestName is the object written next to the files of each round.
const ManifestName = "manifest.json"

// ObjectAPI is the subset of the minio client the archive needs.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Settings configures the object store connection.
type Settings struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Archive uploads artifacts. A nil *Archive is disabled.
type Archive struct {
	client ObjectAPI
	bucket string
	region string
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	ready bool // bucket known to exist
}

// Manifest describes one archived round.
type Manifest struct {
	Project  string    `json:"project"`
	Round    int       `json:"round"`
	RunID    string    `json:"run_id"`
	Files    []string  `json:"files"`
	Archived time.Time `json:"archived_at"`
}

// New connects to the object store described by s.
func New(s Settings, logger zerolog.Logger) (*Archive, error) {
	endpoint := strings.TrimSpace(s.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	if strings.TrimSpace(s.AccessKey) == "" || strings.TrimSpace(s.SecretKey) == "" {
		return nil, fmt.Errorf("archive access key and secret key are required")
	}
	region := strings.TrimSpace(s.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s.AccessKey, s.SecretKey, ""),
		Secure: s.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init archive client: %w", err)
	}
	a := NewWithClient(client, s.Bucket, logger)
	a.region = region
	return a, nil
}

// NewWithClient creates an archive over an existing client.
func NewWithClient(client ObjectAPI, bucket string, logger zerolog.Logger) *Archive {
	if bucket == "" {
		bucket = "pagesmith-artifacts"
	}
	return &Archive{
		client: client,
		bucket: bucket,
		region: "us-east-1",
		logger: logger.With().Str("component", "archive").Str("bucket", bucket).Logger(),
		now:    time.Now,
	}
}

// ObjectKey returns "<ref>/round-<round>/<path>".
func ObjectKey(ref string, round int, p string) string {
	return path.Join(ref, fmt.Sprintf("round-%d", round), strings.TrimLeft(p, "/"))
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		return nil
	}
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if !exists {
		a.logger.Info().Msg("creating archive bucket")
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
			return err
		}
	}
	a.ready = true
	return nil
}

// Store uploads every file of art plus a manifest and returns the number
// of files stored. Upload stops at the first failure.
func (a *Archive) Store(ctx context.Context, runID, ref string, round int, art *artifact.Artifact) (int, error) {
	if a == nil {
		return 0, nil
	}
	if err := a.ensureBucket(ctx); err != nil {
		return 0, fmt.Errorf("ensure bucket: %w", err)
	}

	stored := 0
	for _, f := range art.Files() {
		if err := a.put(ctx, ObjectKey(ref, round, f.Path), []byte(f.Content), contentType(f.Path)); err != nil {
			return stored, fmt.Errorf("archiving %s: %w", f.Path, err)
		}
		stored++
	}

	manifest, err := json.MarshalIndent(Manifest{
		Project:  ref,
		Round:    round,
		RunID:    runID,
		Files:    art.Paths(),
		Archived: a.now().UTC(),
	}, "", "  ")
	if err != nil {
		return stored, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := a.put(ctx, ObjectKey(ref, round, ManifestName), manifest, "application/json"); err != nil {
		return stored, fmt.Errorf("archiving manifest: %w", err)
	}

	a.logger.Info().Str("repo", ref).Int("round", round).Int("files", stored).Msg("artifact archived")
	return stored, nil
}

func (a *Archive) put(ctx context.Context, key string, content []byte, ctype string) error {
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: ctype,
	})
	return err
}

func contentType(p string) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return "text/plain; charset=utf-8"
}
