package wallet

import (
	"io"
	"log/slog"
	"time"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 10 * time.Minute
	defaultMaxRetries   = 3
	defaultRetryBackoff = 500 * time.Millisecond
	defaultHTTPTimeout  = 30 * time.Second
)

type Config struct {
	WalletPath     string
	CurrentMintURL string

	// Mnemonic to restore the seed from when creating a new wallet.
	// A new one is generated if empty.
	Mnemonic string
	// RandomSecrets uses random secrets instead of deriving them from the seed.
	RandomSecrets bool

	// how often and for how long to poll the mint for invoice payment
	PollInterval time.Duration
	PollTimeout  time.Duration

	// retries for requests that failed with a network error
	MaxRetries   int
	RetryBackoff time.Duration
	HTTPTimeout  time.Duration

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		CurrentMintURL: "http://127.0.0.1:3338",
		PollInterval:   defaultPollInterval,
		PollTimeout:    defaultPollTimeout,
		MaxRetries:     defaultMaxRetries,
		RetryBackoff:   defaultRetryBackoff,
		HTTPTimeout:    defaultHTTPTimeout,
	}
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}
