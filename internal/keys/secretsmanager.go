package keys

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/secure"
)

// SecretsManagerClientAPI is the subset of the Secrets Manager client used
// here. It allows mocking in tests.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource reads the system key from AWS Secrets Manager. The
// secret holds either the raw 32 key bytes (SecretBinary) or their base64
// encoding (SecretString).
type SecretsManagerSource struct {
	secretID string
	region   string
	endpoint string
	client   SecretsManagerClientAPI
}

// SecretsManagerOption configures a SecretsManagerSource.
type SecretsManagerOption func(*SecretsManagerSource)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(s *SecretsManagerSource) {
		s.client = client
	}
}

// NewSecretsManagerSource creates a Secrets Manager source. Without an
// injected client, one is built from the default AWS config chain.
func NewSecretsManagerSource(ctx context.Context, secretID, region, endpoint string, opts ...SecretsManagerOption) (*SecretsManagerSource, error) {
	if region == "" {
		region = "us-east-1"
	}
	s := &SecretsManagerSource{secretID: secretID, region: region, endpoint: endpoint}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		var clientOpts []func(*secretsmanager.Options)
		if endpoint != "" {
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			})
		}
		s.client = secretsmanager.NewFromConfig(cfg, clientOpts...)
	}
	return s, nil
}

// Name returns the source name
func (s *SecretsManagerSource) Name() string {
	return "aws-secretsmanager"
}

// SystemKey fetches the current version of the secret.
func (s *SecretsManagerSource) SystemKey(ctx context.Context) (*secure.Key, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		return nil, vserrors.RemoteStoreError(s.Name(), "read system key", err)
	}

	if len(out.SecretBinary) > 0 {
		defer wipe(out.SecretBinary)
		return fromRaw(out.SecretBinary)
	}
	if out.SecretString != nil {
		return decodeKey(*out.SecretString)
	}
	return nil, fmt.Errorf("secret %s has no value", s.secretID)
}
