package keys

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/complyscan/scanstore/internal/server/config"
)

// Seams for tests, same shape as the AWS client construction elsewhere in
// the codebase.
var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newKMSClientFromConfig = func(cfg aws.Config, optFns ...func(*kms.Options)) kmsDecryptAPI {
		return kms.NewFromConfig(cfg, optFns...)
	}
)

type kmsDecryptAPI interface {
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// AWSKMSProvider unwraps a KMS-encrypted data key. The configuration
// carries the wrapped key blob (base64); the plaintext key never touches
// disk or configuration.
type AWSKMSProvider struct {
	keyID        string
	region       string
	wrappedKey   string
	accessKey    string
	secretKey    string
	baseEndpoint string
}

func NewAWSKMSProvider(cfg *config.Config) *AWSKMSProvider {
	return &AWSKMSProvider{
		keyID:        cfg.KMSKeyID,
		region:       cfg.KMSRegion,
		wrappedKey:   cfg.KMSWrappedKey,
		accessKey:    cfg.KMSAccessKey,
		secretKey:    cfg.KMSSecretKey,
		baseEndpoint: cfg.KMSBaseEndpoint,
	}
}

func (p *AWSKMSProvider) Name() string { return "aws-kms" }

func (p *AWSKMSProvider) MasterKey(ctx context.Context) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(p.wrappedKey)
	if err != nil {
		return nil, fmt.Errorf("decoding wrapped key: %w", err)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(p.region),
	}
	if p.accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(p.accessKey, p.secretKey, "")))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := newKMSClientFromConfig(awsCfg, func(o *kms.Options) {
		if p.baseEndpoint != "" {
			o.BaseEndpoint = aws.String(p.baseEndpoint)
		}
	})

	out, err := client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: blob,
		KeyId:          aws.String(p.keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("kms decrypt: %w", err)
	}

	return out.Plaintext, nil
}
