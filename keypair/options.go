package keypair

import (
	"fmt"
	"log/slog"

	"github.com/storacha/go-crx3/principal/rsa/signer"
)

// Option is an option configuring LoadOrCreate.
type Option func(cfg *config) error

type config struct {
	logger  *slog.Logger
	keySize int
}

// WithLogger configures the logger that reports generated keys.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithKeySize configures the modulus length, in bits, of generated keys.
// Loaded keys are used whatever their size.
func WithKeySize(bits int) Option {
	return func(cfg *config) error {
		if bits < signer.MinKeySize {
			return fmt.Errorf("key size %d is below the minimum of %d", bits, signer.MinKeySize)
		}
		cfg.keySize = bits
		return nil
	}
}
