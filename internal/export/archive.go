package export

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive uploads rendered reports to S3-compatible object storage.
type Archive struct {
	client *minio.Client
	bucket string
}

// NewArchive connects to object storage and ensures the bucket exists.
func NewArchive(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Archive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Archive{client: client, bucket: bucket}, nil
}

// Store uploads a report and returns its object key.
func (a *Archive) Store(ctx context.Context, storyID string, result *Result) (string, error) {
	key := fmt.Sprintf("reports/%s/%s-%s", storyID, time.Now().UTC().Format("20060102T150405Z"), result.Filename)

	_, err := a.client.PutObject(ctx, a.bucket, key,
		bytes.NewReader(result.Data), int64(len(result.Data)),
		minio.PutObjectOptions{ContentType: result.MimeType})
	if err != nil {
		return "", fmt.Errorf("upload report %s: %w", key, err)
	}
	return key, nil
}

// ArchivedReport describes one stored report object.
type ArchivedReport struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// List returns the archived reports for a story, newest first.
func (a *Archive) List(ctx context.Context, storyID string) ([]ArchivedReport, error) {
	prefix := fmt.Sprintf("reports/%s/", storyID)
	out := []ArchivedReport{}
	for object := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list reports %s: %w", prefix, object.Err)
		}
		out = append(out, ArchivedReport{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })
	return out, nil
}
