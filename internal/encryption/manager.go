package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"ingest-service/internal/config"
	"ingest-service/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"
)

var (
	ErrNoSalt           = errors.New("no hash salt configured")
	ErrDecryptionFailed = errors.New("salt decryption failed")
)

// developmentSalt keeps visitor hashes stable across restarts of a local
// instance that has no salt configured.
const developmentSalt = "micrologs-development-salt"

// Decrypter is the subset of the KMS client the resolver needs.
type Decrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// SaltResolver produces the identity-hash salt, either from plaintext
// configuration or by unwrapping a KMS ciphertext once at startup.
type SaltResolver struct {
	kms Decrypter
	cfg *config.Config
}

func NewSaltResolver(cfg *config.Config, kmsClient Decrypter) *SaltResolver {
	return &SaltResolver{kms: kmsClient, cfg: cfg}
}

func (r *SaltResolver) Resolve(ctx context.Context) ([]byte, error) {
	h := r.cfg.Hashing

	if h.SaltCiphertext != "" {
		if r.kms == nil {
			return nil, fmt.Errorf("%w: kms client not configured", ErrDecryptionFailed)
		}
		blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(h.SaltCiphertext))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryptionFailed)
		}

		input := &kms.DecryptInput{CiphertextBlob: blob}
		if r.cfg.KMS.KeyID != "" {
			input.KeyId = aws.String(r.cfg.KMS.KeyID)
		}
		out, err := r.kms.Decrypt(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
		if len(out.Plaintext) == 0 {
			return nil, fmt.Errorf("%w: empty plaintext", ErrDecryptionFailed)
		}
		util.Info("Hash salt unwrapped via KMS", zap.String("key_id", r.cfg.KMS.KeyID))
		return out.Plaintext, nil
	}

	if h.Salt != "" {
		return []byte(h.Salt), nil
	}

	if r.cfg.IsProduction() {
		return nil, ErrNoSalt
	}
	util.Warn("HASH_SALT not set, using development salt")
	return []byte(developmentSalt), nil
}
