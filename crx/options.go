package crx

import (
	"fmt"
	"log/slog"

	"github.com/storacha/go-crx3/keypair"
)

// Option is an option configuring a Writer.
type Option func(cfg *writerConfig) error

type writerConfig struct {
	keyPath    string
	keyPair    *keypair.KeyPair
	keyOptions []keypair.Option
	sink       Sink
	logger     *slog.Logger
}

// WithKeyPath configures the private key file used to sign the package. It is
// created when it does not exist. Without a key path, or a key pair, a
// throwaway key is generated.
func WithKeyPath(path string) Option {
	return func(cfg *writerConfig) error {
		cfg.keyPath = path
		return nil
	}
}

// WithKeyPair configures an already loaded key pair, bypassing the key file.
func WithKeyPair(kp *keypair.KeyPair) Option {
	return func(cfg *writerConfig) error {
		if kp == nil || kp.Signer == nil {
			return fmt.Errorf("key pair must not be nil")
		}
		cfg.keyPair = kp
		return nil
	}
}

// WithKeyOptions configures options passed on to keypair.LoadOrCreate.
func WithKeyOptions(options ...keypair.Option) Option {
	return func(cfg *writerConfig) error {
		cfg.keyOptions = append(cfg.keyOptions, options...)
		return nil
	}
}

// WithSink configures the destination the package is written to, in place of
// the file at the writer's path. The writer closes the sink when it is done.
func WithSink(sink Sink) Option {
	return func(cfg *writerConfig) error {
		if sink == nil {
			return fmt.Errorf("sink must not be nil")
		}
		cfg.sink = sink
		return nil
	}
}

// WithLogger configures the logger used by the writer and the key store.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *writerConfig) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		cfg.logger = logger
		return nil
	}
}
