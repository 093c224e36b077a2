package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/cloudenroll/policy-enrollment-backend/interfaces"
)

// S3Backend stores content in an S3 bucket. Objects are written with a
// public-read ACL so agents can fetch policies anonymously; writes require
// credentials in the location URI (s3://ACCESS:SECRET@bucket/prefix/).
// Object keys are <prefix>/<type>/<hex id>.
type S3Backend struct {
	readClient  *s3.S3
	writeClient *s3.S3
	bucket      string
	prefix      string
	maskedURI   string
}

// NewS3Backend creates an S3 storage backend from a parsed location.
// The host is the bucket name, the path an optional key prefix. Supported
// query parameters: region (default us-east-1) and endpoint for
// S3-compatible stores.
func NewS3Backend(location interfaces.StorageBackendLocation) (*S3Backend, error) {
	bucket := location.Host
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 location needs a bucket name", interfaces.ErrInvalidLocationURI)
	}

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	readConfig := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.AnonymousCredentials,
	}
	if endpoint := location.GetParam("endpoint"); endpoint != "" {
		readConfig.Endpoint = aws.String(endpoint)
		readConfig.S3ForcePathStyle = aws.Bool(true)
	}

	readSession, err := session.NewSession(readConfig)
	if err != nil {
		return nil, fmt.Errorf("creating s3 read session: %w", err)
	}

	backend := &S3Backend{
		readClient: s3.New(readSession),
		bucket:     bucket,
		prefix:     strings.Trim(location.Path, "/"),
		maskedURI:  maskedS3URI(location),
	}

	if location.Auth != "" {
		accessKey, secretKey, found := strings.Cut(location.Auth, ":")
		if !found || accessKey == "" || secretKey == "" {
			return nil, fmt.Errorf("%w: s3 credentials must be ACCESS:SECRET", interfaces.ErrInvalidLocationURI)
		}

		writeConfig := &aws.Config{
			Region:      aws.String(region),
			Credentials: credentials.NewStaticCredentials(accessKey, secretKey, ""),
		}
		if endpoint := location.GetParam("endpoint"); endpoint != "" {
			writeConfig.Endpoint = aws.String(endpoint)
			writeConfig.S3ForcePathStyle = aws.Bool(true)
		}

		writeSession, err := session.NewSession(writeConfig)
		if err != nil {
			return nil, fmt.Errorf("creating s3 write session: %w", err)
		}
		backend.writeClient = s3.New(writeSession)

		// Credentialed client can read private buckets too.
		backend.readClient = backend.writeClient
	}

	return backend, nil
}

// Fetch retrieves an object by content ID.
func (s *S3Backend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	output, err := s.readClient.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id, contentType)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, "NotFound":
				return nil, interfaces.ErrContentNotFound
			}
		}
		return nil, fmt.Errorf("fetching s3 object: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3 object body: %w", err)
	}

	return data, nil
}

// Store uploads data under its computed content ID. Requires write
// credentials in the location URI.
func (s *S3Backend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	if s.writeClient == nil {
		return interfaces.ContentID{}, fmt.Errorf("s3 backend %s has no write credentials", s.bucket)
	}

	id := interfaces.ComputeID(data)

	_, err := s.writeClient.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id, contentType)),
		Body:   bytes.NewReader(data),
		ACL:    aws.String("public-read"),
	})
	if err != nil {
		return interfaces.ContentID{}, fmt.Errorf("storing s3 object: %w", err)
	}

	return id, nil
}

// Available checks bucket reachability with a HEAD request.
func (s *S3Backend) Available(ctx context.Context) bool {
	_, err := s.readClient.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	return err == nil
}

// Name returns an identifier for logging.
func (s *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", s.bucket)
}

// LocationURI returns the backend URI with the secret key masked.
func (s *S3Backend) LocationURI() string {
	return s.maskedURI
}

func (s *S3Backend) objectKey(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return path.Join(s.prefix, contentType.String(), id.String())
}

func maskedS3URI(location interfaces.StorageBackendLocation) string {
	if location.Auth == "" {
		return location.Raw
	}
	accessKey, _, _ := strings.Cut(location.Auth, ":")
	return strings.Replace(location.Raw, location.Auth+"@", accessKey+":***@", 1)
}
