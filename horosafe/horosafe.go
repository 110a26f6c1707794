// Package horosafe holds the input checks shared by the hub, the remote
// store and the CLI: secret length, domain keys, http(s) URLs and bounded
// body reads.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// MinSecretLen is the minimum length of an HS256 signing secret.
const MinSecretLen = 32

// MaxBody is the default cap for request and response bodies (1 MiB).
const MaxBody int64 = 1 << 20

var (
	ErrSecretTooShort = fmt.Errorf("horosafe: secret must be at least %d bytes", MinSecretLen)
	ErrUnsafeScheme   = errors.New("horosafe: only http and https schemes are allowed")
	ErrTooLarge       = errors.New("horosafe: body too large")
)

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// ValidateHTTPURL checks that raw is an absolute http or https URL with a
// host.
func ValidateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return fmt.Errorf("horosafe: URL %q has no host", raw)
	}
	return nil
}

// ValidateDomain checks a record domain key: a lower-case host name or IP
// literal, optionally with a port. Brackets are allowed for IPv6.
func ValidateDomain(s string) error {
	if s == "" {
		return errors.New("horosafe: domain must not be empty")
	}
	if len(s) > 260 {
		return errors.New("horosafe: domain too long (max 260)")
	}
	for _, r := range s {
		if !isDomainChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in domain", r)
		}
	}
	if strings.Contains(s, "..") {
		return fmt.Errorf("horosafe: invalid domain %q", s)
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r and fails with ErrTooLarge
// beyond that.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (limit %d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

func isDomainChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
		r == '-' || r == '.' || r == ':' || r == '[' || r == ']'
}
