// Package storage archives the raw PCM window backing a low-confidence
// Detection to S3 for QA review.
// It is an adjunct to C7, not a required dependency of it: when no
// bucket is configured the archiver degrades to a no-op so the
// pipeline never blocks on object storage availability.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// SnapshotArchiver uploads PCM window snapshots keyed by detection id.
type SnapshotArchiver struct {
	client *s3.Client
	bucket string
	region string
}

// NewSnapshotArchiver connects to S3 using the default credential chain.
// bucket may be empty, in which case Archive is a no-op (Disabled()
// reports true) — archiving is best-effort provenance, not a pipeline
// dependency.
func NewSnapshotArchiver(ctx context.Context, region, bucket string) (*SnapshotArchiver, error) {
	if bucket == "" {
		return &SnapshotArchiver{}, nil
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SnapshotArchiver{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		region: region,
	}, nil
}

// Disabled reports whether archiving is configured at all.
func (a *SnapshotArchiver) Disabled() bool {
	return a.client == nil
}

// Archive uploads a raw PCM window (float32 little-endian mono samples)
// captured around a low-confidence Detection and
// returns the object key to store on the Detection row, or "" if
// archiving is disabled.
func (a *SnapshotArchiver) Archive(ctx context.Context, stationID, detectionID string, pcm []byte) (string, error) {
	if a.Disabled() {
		return "", nil
	}

	now := time.Now()
	key := fmt.Sprintf("snapshots/%d/%02d/%s/%s.pcm", now.Year(), now.Month(), stationID, detectionID)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(pcm),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"station-id":   stationID,
			"detection-id": detectionID,
			"captured-at":  now.Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive snapshot: %w", err)
	}

	return key, nil
}

// Fetch downloads a previously archived snapshot by its object key, for
// the `monitorctl replay` maintenance path.
func (a *SnapshotArchiver) Fetch(ctx context.Context, key string) ([]byte, error) {
	if a.Disabled() {
		return nil, fmt.Errorf("snapshot archiver is disabled, cannot fetch %q", key)
	}

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %q: %w", key, err)
	}
	return data, nil
}

// CheckBucketAccess verifies the configured bucket is reachable.
func (a *SnapshotArchiver) CheckBucketAccess(ctx context.Context) error {
	if a.Disabled() {
		return nil
	}
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		return fmt.Errorf("cannot access S3 bucket %s: %w", a.bucket, err)
	}
	return nil
}
