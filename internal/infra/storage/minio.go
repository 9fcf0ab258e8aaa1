package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	domain "github.com/bryanwahyu/auditflow/internal/domain/analysis"
)

// Store backs both sides of the pipeline's artifact traffic: read-only
// source trees under sources/<ref>/ and append-only report artifacts under
// reports/<analysis-id>/.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
}

// New connects to MinIO and ensures the bucket exists.
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	return &Store{client: cli, bucketName: bucket, region: region}, nil
}

// Ping probes the bucket, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

// FetchTree materializes a source root into a local temp directory for the
// analyzer subprocess. The caller removes the directory when done.
func (s *Store) FetchTree(ctx context.Context, rootRef string) (domain.SourceTree, error) {
	prefix := sourcePrefix(rootRef)

	tmp, err := os.MkdirTemp("", "auditflow-src-")
	if err != nil {
		return domain.SourceTree{}, err
	}

	var files []string
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			os.RemoveAll(tmp)
			return domain.SourceTree{}, fmt.Errorf("listing %s: %w", prefix, obj.Err)
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		if rel == "" {
			continue
		}
		local := filepath.Join(tmp, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			os.RemoveAll(tmp)
			return domain.SourceTree{}, err
		}
		if err := s.client.FGetObject(ctx, s.bucketName, obj.Key, local, minio.GetObjectOptions{}); err != nil {
			os.RemoveAll(tmp)
			return domain.SourceTree{}, fmt.Errorf("fetching %s: %w", obj.Key, err)
		}
		files = append(files, rel)
	}
	if len(files) == 0 {
		os.RemoveAll(tmp)
		return domain.SourceTree{}, fmt.Errorf("no objects under source ref %q", rootRef)
	}
	sort.Strings(files)

	return domain.SourceTree{RootPath: tmp, Files: files}, nil
}

// ReadBundle concatenates the whole source tree into one payload for the AI
// context upload, each file preceded by its relative path.
func (s *Store) ReadBundle(ctx context.Context, rootRef string) ([]byte, string, error) {
	prefix := sourcePrefix(rootRef)

	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, "", fmt.Errorf("listing %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	if len(keys) == 0 {
		return nil, "", fmt.Errorf("no objects under source ref %q", rootRef)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, key := range keys {
		rel := strings.TrimPrefix(key, prefix)
		obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, "", fmt.Errorf("fetching %s: %w", key, err)
		}
		fmt.Fprintf(&buf, "// File: %s\n", rel)
		if _, err := io.Copy(&buf, obj); err != nil {
			obj.Close()
			return nil, "", fmt.Errorf("reading %s: %w", key, err)
		}
		obj.Close()
		buf.WriteString("\n\n")
	}

	return buf.Bytes(), fmt.Sprintf("%s-source.txt", rootRef), nil
}

// Put stores one report artifact version. Versions are append-only: writing
// a key that already exists is refused rather than overwritten.
func (s *Store) Put(ctx context.Context, id domain.AnalysisID, format domain.ReportFormat, version int, data []byte) (domain.ReportRef, error) {
	key := fmt.Sprintf("reports/%s/v%d.%s", id, version, formatExt(format))

	if _, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{}); err == nil {
		return domain.ReportRef{}, fmt.Errorf("report version already exists: %s", key)
	}

	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: formatContentType(format)})
	if err != nil {
		return domain.ReportRef{}, fmt.Errorf("storing report: %w", err)
	}

	url := fmt.Sprintf("http://%s/%s/%s", s.client.EndpointURL().Host, s.bucketName, key)
	return domain.ReportRef{Version: version, Format: format, URL: url}, nil
}

func sourcePrefix(rootRef string) string {
	return "sources/" + strings.Trim(rootRef, "/") + "/"
}

func formatExt(f domain.ReportFormat) string {
	if f == domain.FormatMarkdown {
		return "md"
	}
	return "json"
}

func formatContentType(f domain.ReportFormat) string {
	if f == domain.FormatMarkdown {
		return "text/markdown"
	}
	return "application/json"
}
