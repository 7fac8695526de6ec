package utils

import (
	"errors"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

var (
	ErrEmptyURL    = errors.New("empty url")
	ErrMissingHost = errors.New("missing host")
	ErrInvalidHost = errors.New("invalid host")
)

// CanonicalizeOptions controls optional canonicalization policies.
type CanonicalizeOptions struct {
	// DefaultScheme is assumed for schemeless input ("example.com"). Empty
	// means a scheme is required.
	DefaultScheme string

	// StripTrailingSlash treats /a and /a/ the same (root "/" is kept).
	StripTrailingSlash bool

	// DropQuery removes the query string entirely.
	DropQuery bool
}

// DefaultTargetOptions is what domain analysis targets are parsed with.
var DefaultTargetOptions = CanonicalizeOptions{
	DefaultScheme:      "https",
	StripTrailingSlash: false,
	DropQuery:          false,
}

// ParseURL returns the canonical *url.URL for raw: lower-case scheme and
// host, punycode host, default ports and credentials dropped, cleaned path,
// no fragment and a sorted query.
func ParseURL(raw string, opts CanonicalizeOptions) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &url.Error{Op: "parse", URL: raw, Err: ErrEmptyURL}
	}
	if opts.DefaultScheme != "" && !strings.Contains(raw, "://") {
		raw = opts.DefaultScheme + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, &url.Error{Op: "parse", URL: raw, Err: ErrMissingHost}
	}
	u.Scheme = strings.ToLower(u.Scheme)

	host, err := ASCIIHost(u.Hostname())
	if err != nil {
		return nil, &url.Error{Op: "parse", URL: raw, Err: err}
	}

	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	switch {
	case port != "":
		u.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		u.Host = "[" + host + "]"
	default:
		u.Host = host
	}
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	cleanPath := "/"
	if u.Path != "" {
		cleanPath = path.Clean(u.Path)
		if strings.HasSuffix(u.Path, "/") && cleanPath != "/" && !opts.StripTrailingSlash {
			cleanPath += "/"
		}
	}
	u.Path = cleanPath
	u.RawPath = ""

	if opts.DropQuery {
		u.RawQuery = ""
		u.ForceQuery = false
	} else {
		u.RawQuery = sortedQuery(u.Query())
	}

	return u, nil
}

// Canonicalize returns the deterministic string form of ParseURL.
func Canonicalize(raw string, opts CanonicalizeOptions) (string, error) {
	u, err := ParseURL(raw, opts)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// ASCIIHost lower-cases host and converts an IDN to punycode.
func ASCIIHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return "", ErrMissingHost
	}
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}
	puny, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", errors.Join(ErrInvalidHost, err)
	}
	return puny, nil
}

func sortedQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := url.Values{}
	for _, k := range keys {
		values := append([]string(nil), q[k]...)
		sort.Strings(values)
		for _, v := range values {
			ordered.Add(k, v)
		}
	}
	return ordered.Encode()
}
