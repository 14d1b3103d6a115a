// Package archive writes audit snapshots of rounds to S3-compatible object
// storage: one object when a round settles and one when its last entry is
// claimed and the round becomes inert.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/updown/round-engine/internal/events"
	"github.com/updown/round-engine/internal/model"
	"github.com/updown/round-engine/internal/payout"
)

// ClientConfig holds the connection settings for an S3-compatible store.
// Leave Endpoint empty for AWS S3.
type ClientConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// NewS3Client builds an S3 client with static credentials and, when an
// endpoint is given, path-style addressing for MinIO/R2-style providers.
func NewS3Client(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("archive: region is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if u, err := url.Parse(endpoint); err != nil || u.Scheme == "" {
			endpoint = "https://" + endpoint
		}
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// ObjectPutter is the subset of *s3.Client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver is an events.Publisher that archives round snapshots.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3Archiver creates an archiver writing under prefix in bucket.
func NewS3Archiver(client ObjectPutter, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// Publish archives settled and fully claimed rounds and ignores every other event.
func (a *S3Archiver) Publish(ctx context.Context, e events.Event) error {
	if e.Round == nil {
		return nil
	}
	switch {
	case e.Type == events.RoundSettled:
		return a.put(ctx, Key(a.prefix, e.Round.ID, "settled"), e.Round)
	case e.Type == events.PayoutClaimed && payout.FullyClaimed(e.Round):
		return a.put(ctx, Key(a.prefix, e.Round.ID, "final"), e.Round)
	}
	return nil
}

func (a *S3Archiver) put(ctx context.Context, key string, r *model.Round) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal round %d: %w", r.ID, err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	slog.Debug("archived round", "round_id", r.ID, "key", key)
	return nil
}

// Key returns the object key for a round snapshot. Round numbers are
// zero-padded so keys list in round order.
//
//	rounds/00000000000000000042/settled.json
func Key(prefix string, roundID uint64, stage string) string {
	key := fmt.Sprintf("rounds/%020d/%s.json", roundID, stage)
	if prefix != "" {
		key = prefix + "/" + key
	}
	return key
}
