package module

import (
	"net/url"

	"github.com/raysh454/webaudit/internal/utils"
)

// Target is a canonicalized domain to analyse. The zero value is empty.
type Target struct {
	u *url.URL
}

// ParseTarget accepts a bare hostname ("example.com") or a URL and
// canonicalizes it; non-ASCII hosts are converted to punycode.
func ParseTarget(raw string) (Target, error) {
	u, err := utils.ParseURL(raw, utils.DefaultTargetOptions)
	if err != nil {
		return Target{}, err
	}
	return Target{u: u}, nil
}

// MustParseTarget is ParseTarget for literals; it panics on error.
func MustParseTarget(raw string) Target {
	t, err := ParseTarget(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Target) Hostname() string {
	if t.u == nil {
		return ""
	}
	return t.u.Hostname()
}

func (t Target) String() string {
	if t.u == nil {
		return ""
	}
	return t.u.String()
}

// URL returns a copy of the canonical URL.
func (t Target) URL() *url.URL {
	if t.u == nil {
		return nil
	}
	cp := *t.u
	return &cp
}

func (t Target) IsZero() bool {
	return t.u == nil
}

func (t Target) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}
