package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/TobiSchelling/surveysentiment/internal/reshape"
)

// objectGetter is the part of *s3.Client the reader needs.
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Reader downloads an object and parses it by its key extension.
type S3Reader struct {
	Bucket string
	Key    string
	Sheet  string
	client objectGetter
}

// NewS3Reader builds a reader for an s3://bucket/key reference using the
// default AWS credential chain. S3Endpoint selects a MinIO-style endpoint.
func NewS3Reader(ctx context.Context, spec Spec) (*S3Reader, error) {
	bucket, key, err := splitS3Ref(spec.Ref)
	if err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if spec.S3Region != "" {
		opts = append(opts, config.WithRegion(spec.S3Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if spec.S3Endpoint != "" {
		endpoint := spec.S3Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		})
	}

	return &S3Reader{
		Bucket: bucket,
		Key:    key,
		Sheet:  spec.Sheet,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

func (r *S3Reader) Read(ctx context.Context) (*reshape.WideTable, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(r.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading s3://%s/%s: %w", r.Bucket, r.Key, err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(io.LimitReader(out.Body, maxInputBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading s3 object: %w", err)
	}
	if len(content) > maxInputBytes {
		return nil, fmt.Errorf("s3 object is larger than %d bytes", maxInputBytes)
	}
	return Parse(path.Base(r.Key), content, r.Sheet)
}

func splitS3Ref(ref string) (bucket, key string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 reference %q: %w", ref, err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 reference %q: want s3://bucket/key", ref)
	}
	return u.Host, key, nil
}
