package publish

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	folioerrors "github.com/conneroisu/folio/internal/errors"
)

// Environment variables the S3 client reads its credentials from.
const (
	EnvAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvSessionToken    = "AWS_SESSION_TOKEN"
	EnvEndpoint        = "FOLIO_S3_ENDPOINT"
)

// NewS3Client creates an S3 client for region using the standard AWS
// credential variables. FOLIO_S3_ENDPOINT points the client at an
// S3-compatible service and switches to path-style addressing.
func NewS3Client(region string) (*s3.Client, error) {
	if region == "" {
		return nil, folioerrors.ConfigurationError("publish.region", "region is required for S3 uploads", region)
	}

	creds := aws.NewCredentialsCache(aws.CredentialsProviderFunc(envCredentials))
	opts := s3.Options{
		Region:      region,
		Credentials: creds,
	}
	if endpoint := os.Getenv(EnvEndpoint); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts), nil
}

func envCredentials(context.Context) (aws.Credentials, error) {
	id, secret := os.Getenv(EnvAccessKeyID), os.Getenv(EnvSecretAccessKey)
	if id == "" || secret == "" {
		return aws.Credentials{}, folioerrors.ConfigurationError("aws credentials",
			EnvAccessKeyID+" and "+EnvSecretAccessKey+" must be set", nil)
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv(EnvSessionToken),
		Source:          "environment",
	}, nil
}
