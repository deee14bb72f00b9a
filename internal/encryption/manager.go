package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/config"
	"github.com/rkohli77/chatbot/internal/util"
)

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrKMSDisabled      = errors.New("kms is disabled")
)

// Decrypter is the subset of the KMS client used here.
type Decrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// SecretManager resolves secrets that are shipped to the process as
// base64 KMS ciphertext (the *_KMS_CIPHERTEXT environment variables).
type SecretManager struct {
	kmsClient Decrypter
	keyID     string
	enabled   bool
	cache     sync.Map // ciphertext -> plaintext
}

func NewSecretManager(cfg config.KMSConfig, kmsClient Decrypter) *SecretManager {
	return &SecretManager{
		kmsClient: kmsClient,
		keyID:     cfg.KeyID,
		enabled:   cfg.Enabled && kmsClient != nil,
	}
}

// NewKMSClient builds a KMS client from the default AWS credential chain.
func NewKMSClient(ctx context.Context, cfg config.KMSConfig) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// Resolve returns plaintext when no ciphertext is configured, otherwise the
// KMS-decrypted ciphertext. name is only used for logging.
func (sm *SecretManager) Resolve(ctx context.Context, name, plaintext, ciphertext string) (string, error) {
	ciphertext = strings.TrimSpace(ciphertext)
	if ciphertext == "" {
		return plaintext, nil
	}
	if cached, ok := sm.cache.Load(ciphertext); ok {
		return cached.(string), nil
	}
	if !sm.enabled {
		return "", fmt.Errorf("%w: %s is KMS-encrypted", ErrKMSDisabled, name)
	}

	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not valid base64", ErrDecryptionFailed, name)
	}

	input := &kms.DecryptInput{CiphertextBlob: blob}
	if sm.keyID != "" {
		input.KeyId = aws.String(sm.keyID)
	}
	result, err := sm.kmsClient.Decrypt(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decrypt %s: %v", ErrDecryptionFailed, name, err)
	}

	secret := string(result.Plaintext)
	sm.cache.Store(ciphertext, secret)
	util.Info("Secret resolved via KMS", zap.String("secret", name))
	return secret, nil
}

// ResolveConfig replaces every encrypted secret in cfg with its plaintext.
func (sm *SecretManager) ResolveConfig(ctx context.Context, cfg *config.Config) error {
	var err error
	if cfg.OpenAI.APIKey, err = sm.Resolve(ctx, "OPENAI_API_KEY", cfg.OpenAI.APIKey, cfg.OpenAI.APIKeyCiphertext); err != nil {
		return err
	}
	if cfg.Server.InternalToken, err = sm.Resolve(ctx, "INTERNAL_API_TOKEN", cfg.Server.InternalToken, cfg.Server.InternalTokenCiphertext); err != nil {
		return err
	}
	return nil
}

// ClearCache drops resolved plaintexts.
func (sm *SecretManager) ClearCache() {
	sm.cache.Range(func(key, _ any) bool {
		sm.cache.Delete(key)
		return true
	})
}
