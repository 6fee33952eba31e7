package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/edvin/raftisctl/internal/topology"
)

// S3Options configures an S3-compatible object store.
type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// S3 uploads the topology document to <bucket>/<cluster>/topology.json.
type S3 struct {
	client *s3.Client
	bucket string
	logger zerolog.Logger
}

// NewS3 creates an S3 publisher using path-style addressing, which works
// with both AWS and self-hosted gateways.
func NewS3(opts S3Options, logger zerolog.Logger) *S3 {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	s3Opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		UsePathStyle: true,
		// Self-hosted gateways often reject the default trailing checksums.
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	}
	if opts.Endpoint != "" {
		s3Opts.BaseEndpoint = aws.String(opts.Endpoint)
	}
	return &S3{
		client: s3.New(s3Opts),
		bucket: opts.Bucket,
		logger: logger.With().Str("component", "s3-publisher").Logger(),
	}
}

// ObjectKey returns the object key for cluster.
func ObjectKey(cluster string) string {
	return path.Join(cluster, "topology.json")
}

func (p *S3) Publish(ctx context.Context, cluster string, t *topology.Topology) error {
	doc, err := encode(t)
	if err != nil {
		return err
	}
	key := ObjectKey(cluster)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(doc),
		ContentLength: aws.Int64(int64(len(doc))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload topology to s3://%s/%s: %w", p.bucket, key, err)
	}
	p.logger.Info().Str("bucket", p.bucket).Str("key", key).Int("bytes", len(doc)).Msg("published topology")
	return nil
}

// Fetch downloads and validates the stored document.
func (p *S3) Fetch(ctx context.Context, cluster string) (*topology.Topology, error) {
	key := ObjectKey(cluster)
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download s3://%s/%s: %w", p.bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", p.bucket, key, err)
	}
	return topology.Read(bytes.NewReader(data))
}
