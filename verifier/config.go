package verifier

import (
	"fmt"
	"time"

	"github.com/vitalvas/tofusig/directory"
)

// Config describes what a request must satisfy.
type Config struct {
	// DirectoryURL is the absolute http(s) URL of the signer's key
	// directory. Required.
	DirectoryURL string

	// ExpectedPurpose, when set, must equal the purpose declared by the
	// directory.
	ExpectedPurpose string

	// FreshnessWindow is how long a fetched directory may be reused. Zero
	// selects directory.DefaultFreshnessWindow; negative values are
	// invalid. Use DisableCache to fetch on every verification.
	FreshnessWindow time.Duration

	// DisableCache fetches the directory on every verification and never
	// stores it.
	DisableCache bool

	// Label selects the signature by its dictionary label. Empty selects
	// the first signature.
	Label string
}

// Validate reports configuration contract violations.
func (c Config) Validate() error {
	if err := directory.ValidateURL(c.DirectoryURL); err != nil {
		return fmt.Errorf("%w: directory url: %w", ErrInvalidConfig, err)
	}

	if c.FreshnessWindow < 0 {
		return fmt.Errorf("%w: freshness window %s is negative", ErrInvalidConfig, c.FreshnessWindow)
	}

	return nil
}

// Window returns the freshness window passed to the resolver.
func (c Config) Window() time.Duration {
	switch {
	case c.DisableCache:
		return 0
	case c.FreshnessWindow == 0:
		return directory.DefaultFreshnessWindow
	}

	return c.FreshnessWindow
}
