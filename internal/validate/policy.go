// Package validate checks user input before any network call.
package validate

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/and161185/petmem/internal/errs"
)

// EmailPolicy tunes email acceptance. The zero value is purely syntactic.
type EmailPolicy struct {
	// MinLocalLength rejects shorter local parts when > 0.
	MinLocalLength int `yaml:"min_local_length"`
	// SequentialRun rejects local parts containing a run of this many
	// consecutive characters ("abcd", "1234") when > 0.
	SequentialRun int `yaml:"sequential_run"`
	// RejectAlphaOnlyBelow rejects purely alphabetic local parts shorter than this.
	RejectAlphaOnlyBelow int      `yaml:"reject_alpha_only_below"`
	BlockedLocalParts    []string `yaml:"blocked_local_parts"`
	BlockedDomains       []string `yaml:"blocked_domains"`
}

// PasswordPolicy tunes password acceptance.
type PasswordPolicy struct {
	MinLength     int  `yaml:"min_length"`
	RequireDigit  bool `yaml:"require_digit"`
	RequireLetter bool `yaml:"require_letter"`
}

// Policy groups input rules; it can be loaded from YAML.
type Policy struct {
	Email    EmailPolicy    `yaml:"email"`
	Password PasswordPolicy `yaml:"password"`
}

// DefaultPolicy accepts any syntactically valid address.
func DefaultPolicy() Policy {
	return Policy{Password: PasswordPolicy{MinLength: 6}}
}

// StrictPolicy mirrors the identity provider's anti-abuse heuristics:
// short alphabetic or sequential local parts and throwaway names are rejected.
func StrictPolicy() Policy {
	return Policy{
		Email: EmailPolicy{
			MinLocalLength:       3,
			SequentialRun:        4,
			RejectAlphaOnlyBelow: 5,
			BlockedLocalParts:    []string{"test", "user", "admin", "example", "asdf", "qwerty"},
			BlockedDomains:       []string{"example.com", "example.org", "test.com", "mailinator.com"},
		},
		Password: PasswordPolicy{MinLength: 8, RequireDigit: true, RequireLetter: true},
	}
}

// LoadPolicy reads a YAML policy file over DefaultPolicy.
// An empty path returns DefaultPolicy; the profile name "strict" returns StrictPolicy.
func LoadPolicy(path string) (Policy, error) {
	switch path {
	case "":
		return DefaultPolicy(), nil
	case "strict":
		return StrictPolicy(), nil
	}
	p := DefaultPolicy()
	b, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("parse policy %s: %w", path, err)
	}
	return p, nil
}

// CheckEmail validates address and returns an *errs.InputError on rejection.
func (p EmailPolicy) CheckEmail(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return errs.Invalid("email", "Enter your email address.")
	}
	at := strings.LastIndexByte(address, '@')
	if at < 0 || strings.Count(address, "@") != 1 {
		return errs.Invalid("email", "Enter a valid email address.")
	}
	local, domain := address[:at], strings.ToLower(address[at+1:])
	if err := checkLocal(local); err != nil {
		return err
	}
	if err := checkDomain(domain); err != nil {
		return err
	}
	return p.heuristics(strings.ToLower(local), domain)
}

func checkLocal(local string) error {
	if local == "" {
		return errs.Invalid("email", "The part before @ is empty.")
	}
	if len(local) > 64 || strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") || strings.Contains(local, "..") {
		return errs.Invalid("email", "Enter a valid email address.")
	}
	for _, r := range local {
		if r > unicode.MaxASCII || unicode.IsSpace(r) || strings.ContainsRune(`"(),:;<>[\]`, r) {
			return errs.Invalid("email", "Enter a valid email address.")
		}
	}
	return nil
}

func checkDomain(domain string) error {
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return errs.Invalid("email", "The domain needs a top-level part such as .com.")
	}
	for _, l := range labels {
		if l == "" || len(l) > 63 || strings.HasPrefix(l, "-") || strings.HasSuffix(l, "-") {
			return errs.Invalid("email", "The email domain is malformed.")
		}
		for _, r := range l {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
				return errs.Invalid("email", "The email domain is malformed.")
			}
		}
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 || strings.IndexFunc(tld, func(r rune) bool { return r < 'a' || r > 'z' }) >= 0 {
		return errs.Invalid("email", "The domain needs a top-level part such as .com.")
	}
	return nil
}

func (p EmailPolicy) heuristics(local, domain string) error {
	const reason = "This email address can't be used. Please use a different one."
	if p.MinLocalLength > 0 && len(local) < p.MinLocalLength {
		return errs.Invalid("email", reason)
	}
	if p.RejectAlphaOnlyBelow > 0 && len(local) < p.RejectAlphaOnlyBelow &&
		strings.IndexFunc(local, func(r rune) bool { return r < 'a' || r > 'z' }) < 0 {
		return errs.Invalid("email", reason)
	}
	if p.SequentialRun > 1 && hasSequentialRun(local, p.SequentialRun) {
		return errs.Invalid("email", reason)
	}
	for _, b := range p.BlockedLocalParts {
		if local == strings.ToLower(b) {
			return errs.Invalid("email", reason)
		}
	}
	for _, b := range p.BlockedDomains {
		if domain == strings.ToLower(b) {
			return errs.Invalid("email", reason)
		}
	}
	return nil
}

// hasSequentialRun reports an ascending or descending run of n characters.
func hasSequentialRun(s string, n int) bool {
	up, down := 1, 1
	for i := 1; i < len(s); i++ {
		switch int(s[i]) - int(s[i-1]) {
		case 1:
			up, down = up+1, 1
		case -1:
			up, down = 1, down+1
		default:
			up, down = 1, 1
		}
		if up >= n || down >= n {
			return true
		}
	}
	return false
}

// CheckPassword validates pw and returns an *errs.InputError on rejection.
func (p PasswordPolicy) CheckPassword(pw string) error {
	if pw == "" {
		return errs.Invalid("password", "Enter your password.")
	}
	if len([]rune(pw)) < p.MinLength {
		return errs.Invalid("password", fmt.Sprintf("Password must be at least %d characters.", p.MinLength))
	}
	var letter, digit bool
	for _, r := range pw {
		letter = letter || unicode.IsLetter(r)
		digit = digit || unicode.IsDigit(r)
	}
	if p.RequireLetter && !letter {
		return errs.Invalid("password", "Password must contain a letter.")
	}
	if p.RequireDigit && !digit {
		return errs.Invalid("password", "Password must contain a digit.")
	}
	return nil
}

// IsInputError reports whether err is a validation rejection.
func IsInputError(err error) bool {
	var in *errs.InputError
	return errors.As(err, &in)
}
