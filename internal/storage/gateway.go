// Package storage issues upload grants against S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/ignite/onboarding/internal/config"
)

// Gateway presigns PUT URLs for caller-chosen keys in a single bucket.
type Gateway struct {
	client  *s3.Client
	presign *s3.PresignClient
	signer  *v4.Signer
	bucket  string
	now     func() time.Time
}

// NewGateway creates a gateway from storage config. Static credentials are
// used when both keys are set, otherwise the profile or default chain.
func NewGateway(ctx context.Context, cfg appconfig.StorageConfig) (*Gateway, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	case cfg.GetAWSProfile() != "":
		opts = append(opts, config.WithSharedConfigProfile(cfg.GetAWSProfile()))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &Gateway{
		client:  client,
		presign: s3.NewPresignClient(client),
		signer: v4.NewSigner(func(o *v4.SignerOptions) {
			o.DisableURIPathEscaping = true
		}),
		bucket: cfg.S3Bucket,
		now:    time.Now,
	}, nil
}

// IssuePutGrant presigns a PUT for key with Content-Type among the signed
// headers. S3 rejects an upload whose Content-Type differs from contentType.
func (g *Gateway) IssuePutGrant(ctx context.Context, key, contentType string, ttl time.Duration) (string, time.Time, error) {
	issued := g.now()
	req, err := g.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(o *s3.PresignOptions) {
		o.Expires = ttl
		o.Presigner = contentTypeSigner{contentType: contentType, signer: g.signer}
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign put %s: %w", key, err)
	}
	return req.URL, issued.Add(ttl), nil
}

// contentTypeSigner restores the Content-Type header the PUT presign stack
// strips, so it is covered by the signature.
type contentTypeSigner struct {
	contentType string
	signer      *v4.Signer
}

func (s contentTypeSigner) PresignHTTP(
	ctx context.Context, creds aws.Credentials, r *http.Request,
	payloadHash, service, region string, signingTime time.Time,
	optFns ...func(*v4.SignerOptions),
) (string, http.Header, error) {
	r.Header.Set("Content-Type", s.contentType)
	return s.signer.PresignHTTP(ctx, creds, r, payloadHash, service, region, signingTime, optFns...)
}

// RevokePutGrant removes anything already uploaded under key. A presigned
// URL cannot be withdrawn, so an upload racing the delete may still land.
func (g *Gateway) RevokePutGrant(ctx context.Context, key string) error {
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Ping checks that the bucket is reachable with the configured credentials.
func (g *Gateway) Ping(ctx context.Context) error {
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(g.bucket)})
	return err
}

// Bucket returns the bucket grants are issued against.
func (g *Gateway) Bucket() string { return g.bucket }

// IssueOnly exposes only grant issuance, so compensation lets grants expire
// instead of deleting objects.
type IssueOnly struct{ g *Gateway }

// WithoutRevoke wraps g so it does not offer revocation.
func WithoutRevoke(g *Gateway) IssueOnly { return IssueOnly{g: g} }

func (i IssueOnly) IssuePutGrant(ctx context.Context, key, contentType string, ttl time.Duration) (string, time.Time, error) {
	return i.g.IssuePutGrant(ctx, key, contentType, ttl)
}
