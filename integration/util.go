//go:build integration
// +build integration

// Package integration runs the upload backends against an S3 compatible service in a LocalStack container.
// Docker is required:
//
//	go test -tags=integration ./integration/...
package integration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	region          = "us-east-1"
	accessKeyID     = "test"
	secretAccessKey = "test"
)

var logger = log.NewLogger()

type localStack struct {
	container *localstack.LocalStackContainer
	endpoint  string
}

func startLocalStack(t *testing.T) *localStack {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := localstack.Run(ctx,
		"localstack/localstack:latest",
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/_localstack/health").
				WithPort("4566").
				WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start LocalStack container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate LocalStack container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4566")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return &localStack{container: container, endpoint: fmt.Sprintf("http://%s:%s", host, port.Port())}
}

func (l *localStack) s3Client(t *testing.T) *s3.Client {
	t.Helper()

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: accessKeyID, SecretAccessKey: secretAccessKey}, nil
			})),
	)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(l.endpoint)
	})
}

func (l *localStack) createBucket(t *testing.T, bucket string) {
	t.Helper()

	_, err := l.s3Client(t).CreateBucket(context.Background(), &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		t.Fatalf("Failed to create bucket: %v", err)
	}
}

func (l *localStack) objectChecksum(t *testing.T, bucket, key string) string {
	t.Helper()

	out, err := l.s3Client(t).GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		t.Fatalf("Failed to get object: %v", err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(out.Body)

	hash := sha256.New()
	if _, err := io.Copy(hash, out.Body); err != nil {
		t.Fatalf("Failed to read object: %v", err)
	}
	return hex.EncodeToString(hash.Sum(nil))
}

func givenSourceFile(t *testing.T, size int) (string, string) {
	t.Helper()

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	pth := filepath.Join(t.TempDir(), "source.bin")
	if err := os.WriteFile(pth, data, 0600); err != nil {
		t.Fatalf("Failed to write source: %v", err)
	}
	return pth, checksumOf(data)
}

func checksumOf(bytes []byte) string {
	hash := sha256.New()
	hash.Write(bytes)
	return hex.EncodeToString(hash.Sum(nil))
}
