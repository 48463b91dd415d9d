package coupon

import (
	"context"
	"crypto/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// codeAlphabet is the character set for random code segments.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxCodeLen caps the final rendered code length.
const maxCodeLen = 40

const (
	defaultRandLen  = 8
	defaultAttempts = 20
)

// ErrCodeSpaceExhausted is returned when unique code generation gives up
// after the configured attempt bound. It signals a configuration problem
// (the code space is too small), not a retryable condition.
var ErrCodeSpaceExhausted = errors.New("coupon code space exhausted")

// randToken matches {RAND} and {RAND:n} template tokens.
var randToken = regexp.MustCompile(`\{RAND(?::(\d+))?\}`)

// invalidChars matches every run of characters outside [A-Z0-9-].
var invalidChars = regexp.MustCompile(`[^A-Z0-9-]+`)

// repeatedHyphens matches runs of two or more hyphens.
var repeatedHyphens = regexp.MustCompile(`-{2,}`)

// CodeChecker reports whether a candidate code already exists in storage.
type CodeChecker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// GeneratorConfig tunes code generation. Zero values fall back to defaults.
type GeneratorConfig struct {
	// RandLen is the default length of a {RAND} segment.
	RandLen int
	// Attempts bounds uniqueness retries before giving up.
	Attempts int
}

// Generator produces unique human-shareable coupon codes.
type Generator struct {
	codes    CodeChecker
	randLen  int
	attempts int
}

// NewGenerator creates a Generator backed by the given code checker.
func NewGenerator(codes CodeChecker, cfg GeneratorConfig) *Generator {
	if cfg.RandLen <= 0 {
		cfg.RandLen = defaultRandLen
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	return &Generator{
		codes:    codes,
		randLen:  cfg.RandLen,
		attempts: cfg.Attempts,
	}
}

// GenerateCode renders one candidate code. Each {RAND} or {RAND:n} token in
// pattern is replaced with n (default length) random uppercase alphanumeric
// characters; a pattern without tokens gets a random suffix appended. The
// result is sanitized to [A-Z0-9-], repeated hyphens collapsed, and trimmed
// to 40 characters.
func GenerateCode(prefix string, length int, pattern string) (string, error) {
	if length <= 0 {
		length = defaultRandLen
	}

	rendered := pattern
	replaced := false
	var randErr error
	rendered = randToken.ReplaceAllStringFunc(rendered, func(tok string) string {
		n := length
		if m := randToken.FindStringSubmatch(tok); m[1] != "" {
			if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
				n = v
			}
		}
		seg, err := randomChars(n)
		if err != nil {
			randErr = err
			return ""
		}
		replaced = true
		return seg
	})
	if randErr != nil {
		return "", errors.Wrap(randErr, "random segment")
	}

	if !replaced {
		suffix, err := randomChars(length)
		if err != nil {
			return "", errors.Wrap(err, "random suffix")
		}
		if rendered != "" {
			rendered += "-"
		}
		rendered += suffix
	}

	if prefix != "" {
		rendered = prefix + "-" + rendered
	}

	return sanitizeCode(rendered), nil
}

// GenerateUnique generates candidate codes until one is absent from storage,
// failing with ErrCodeSpaceExhausted once the attempt bound is reached.
func (g *Generator) GenerateUnique(ctx context.Context, prefix, pattern string) (string, error) {
	for range g.attempts {
		code, err := GenerateCode(prefix, g.randLen, pattern)
		if err != nil {
			return "", err
		}

		exists, err := g.codes.CodeExists(ctx, code)
		if err != nil {
			return "", errors.Wrap(err, "check code collision")
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.Wrapf(ErrCodeSpaceExhausted, "after %d attempts", g.attempts)
}

// sanitizeCode normalizes a rendered code to the shareable form.
func sanitizeCode(code string) string {
	code = strings.ToUpper(code)
	code = invalidChars.ReplaceAllString(code, "-")
	code = repeatedHyphens.ReplaceAllString(code, "-")
	code = strings.Trim(code, "-")
	if len(code) > maxCodeLen {
		code = strings.TrimRight(code[:maxCodeLen], "-")
	}
	return code
}

// randomChars returns n cryptographically random characters from codeAlphabet.
func randomChars(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
