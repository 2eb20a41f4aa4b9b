package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	log "github.com/sirupsen/logrus"
)

// Option configures how the AWS-backed stores reach their service.
type Option func(*awsOptions)

type awsOptions struct {
	profile     string
	region      string
	endpoint    string
	pathStyle   bool
	credentials *credentials.Credentials
}

// WithProfile selects a profile from the shared credentials file.
func WithProfile(value string) Option {
	return func(o *awsOptions) {
		o.profile = value
	}
}

func WithRegion(value string) Option {
	return func(o *awsOptions) {
		o.region = value
	}
}

// WithEndpoint points the client to an S3- or DynamoDB-compatible service
// other than AWS. S3 requests then use path-style addressing.
func WithEndpoint(value string) Option {
	return func(o *awsOptions) {
		o.endpoint = value
		o.pathStyle = true
	}
}

func WithStaticCredentials(id, secret string) Option {
	return func(o *awsOptions) {
		o.credentials = credentials.NewStaticCredentials(id, secret, "")
	}
}

func newAWSSession(opts []Option) (*session.Session, error) {
	var o awsOptions
	for _, opt := range opts {
		opt(&o)
	}
	config := &aws.Config{
		Region:      aws.String(o.region),
		Credentials: o.credentials,
	}
	if config.Credentials == nil {
		config.Credentials = credentials.NewSharedCredentials("", o.profile)
	}
	if o.endpoint != "" {
		config.Endpoint = aws.String(o.endpoint)
		config.S3ForcePathStyle = aws.Bool(o.pathStyle)
	}
	return session.NewSession(config)
}

// S3Store is an implementation of Store backed by AWS S3, one object per
// user. S3 has no conditional delete, so deletes check for existence first;
// the check and the delete are serialized with sets and other deletes of the
// same user within this process only.
type S3Store struct {
	bucket string
	client *s3.S3
	locks  shardedLocks
}

func NewS3Store(bucket string, opts ...Option) (*S3Store, error) {
	sess, err := newAWSSession(opts)
	if err != nil {
		return nil, err
	}
	return &S3Store{
		bucket: bucket,
		client: s3.New(sess),
	}, nil
}

func (s *S3Store) objectKey(userID string) *string {
	return aws.String(fmt.Sprintf("%x", userID))
}

func isS3NotFound(err error) bool {
	if rfErr, ok := err.(awserr.RequestFailure); ok {
		return rfErr.StatusCode() == http.StatusNotFound
	}
	return false
}

func (s *S3Store) Get(ctx context.Context, userID string) ([]byte, error) {
	output, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.objectKey(userID),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, notFound(userID)
		}
		return nil, unavailable("get", userID, err)
	}
	defer func() {
		if err := output.Body.Close(); err != nil {
			log.WithFields(log.Fields{
				"op":   "get",
				"user": userID,
				"err":  err,
			}).Warning("Could not close response body")
		}
	}()
	value, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, unavailable("get", userID, err)
	}
	return dup(value), nil
}

func (s *S3Store) Set(ctx context.Context, userID string, payload []byte) error {
	unlock := s.locks.lock(userID)
	defer unlock()
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         s.objectKey(userID),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return unavailable("set", userID, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, userID string) error {
	unlock := s.locks.lock(userID)
	defer unlock()
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.objectKey(userID),
	})
	if err != nil {
		if isS3NotFound(err) {
			return notFound(userID)
		}
		return unavailable("delete", userID, err)
	}
	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.objectKey(userID),
	})
	if err != nil {
		return unavailable("delete", userID, err)
	}
	return nil
}

func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("%q: %w: %w", s.bucket, ErrUnavailable, err)
	}
	return nil
}
