package pack

import (
	"fmt"
	"log/slog"

	"github.com/storacha/go-crx3/archive"
	"github.com/storacha/go-crx3/keypair"
)

// Option is an option configuring a packaging run.
type Option func(cfg *packConfig) error

type packConfig struct {
	logger     *slog.Logger
	keyOptions []keypair.Option
	zipOptions []archive.Option
}

// WithLogger configures the logger used while packaging.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *packConfig) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithKeyOptions configures options passed on to keypair.LoadOrCreate.
func WithKeyOptions(options ...keypair.Option) Option {
	return func(cfg *packConfig) error {
		cfg.keyOptions = append(cfg.keyOptions, options...)
		return nil
	}
}

// WithCompressionLevel configures the deflate level used when zipping files.
func WithCompressionLevel(level int) Option {
	return func(cfg *packConfig) error {
		cfg.zipOptions = append(cfg.zipOptions, archive.WithCompressionLevel(level))
		return nil
	}
}
