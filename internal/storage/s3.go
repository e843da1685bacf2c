package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3BlobStore maps containers onto buckets of an S3-compatible service (AWS S3, MinIO, etc.).
type S3BlobStore struct {
	client       *s3.Client
	bucketPrefix string
	endpoint     string
	region       string
	pathStyle    bool
}

var _ Backend = (*S3BlobStore)(nil)

type S3Options struct {
	Endpoint        string // optional, e.g. "http://localhost:9000"
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	BucketPrefix    string // optional bucket name prefix, e.g. "uploads-"
}

// NewS3Client builds an S3 client from opts, falling back to the default AWS
// credential chain when no static keys are given.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

func NewS3BlobStore(client *s3.Client, opts S3Options) *S3BlobStore {
	return &S3BlobStore{
		client:       client,
		bucketPrefix: opts.BucketPrefix,
		endpoint:     strings.TrimRight(opts.Endpoint, "/"),
		region:       opts.Region,
		pathStyle:    opts.UsePathStyle,
	}
}

func (s *S3BlobStore) bucket(container string) string {
	if s.bucketPrefix != "" {
		return s.bucketPrefix + container
	}
	return container
}

func (s *S3BlobStore) EnsureContainer(ctx context.Context, container string, access AccessLevel) error {
	exists, err := s.ContainerExists(ctx, container)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket(container))}
	if access != AccessPrivate && access != "" {
		input.ACL = types.BucketCannedACLPublicRead
	}
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("s3 create bucket %q: %w", s.bucket(container), err)
	}
	return nil
}

func (s *S3BlobStore) ContainerExists(ctx context.Context, container string) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket(container))})
	if err != nil {
		var notFound *types.NotFound
		var noBucket *types.NoSuchBucket
		if errors.As(err, &notFound) || errors.As(err, &noBucket) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head bucket %q: %w", s.bucket(container), err)
	}
	return true, nil
}

func (s *S3BlobStore) Upload(ctx context.Context, container, blob string, r io.Reader, opts UploadOptions) error {
	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		if opts.BlockSize >= manager.MinUploadPartSize {
			u.PartSize = opts.BlockSize
		}
		if opts.Concurrency > 0 {
			u.Concurrency = opts.Concurrency
		}
	})

	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket(container)),
		Key:      aws.String(blob),
		Body:     r,
		Metadata: opts.Metadata,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		input.ContentDisposition = aws.String(opts.ContentDisposition)
	}
	if _, err := uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("s3 upload %q: %w", blob, err)
	}
	return nil
}

func (s *S3BlobStore) Properties(ctx context.Context, container, blob string) (Properties, error) {
	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket(container)),
		Key:    aws.String(blob),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return Properties{}, fmt.Errorf("s3 head %q: %w", blob, ErrNotFound)
		}
		return Properties{}, fmt.Errorf("s3 head %q: %w", blob, err)
	}

	props := Properties{
		ETag:          aws.ToString(resp.ETag),
		BlobType:      "Object",
		ContentLength: aws.ToInt64(resp.ContentLength),
		Metadata:      map[string]string{},
	}
	for k, v := range resp.Metadata {
		props.Metadata[k] = v
	}
	return props, nil
}

func (s *S3BlobStore) Delete(ctx context.Context, container, blob string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket(container)),
		Key:    aws.String(blob),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %q: %w", blob, err)
	}
	return nil
}

func (s *S3BlobStore) URL(container, blob string) string {
	bucket := s.bucket(container)
	key := (&url.URL{Path: blob}).EscapedPath()
	if s.endpoint != "" {
		if s.pathStyle {
			return s.endpoint + "/" + bucket + "/" + key
		}
		if u, err := url.Parse(s.endpoint); err == nil && u.Host != "" {
			return u.Scheme + "://" + bucket + "." + u.Host + "/" + key
		}
		return s.endpoint + "/" + bucket + "/" + key
	}
	region := s.region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}
