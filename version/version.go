// Package version provides build version information for the crx3 binary
// and compares extension version strings.
//
// Version information is injected at build time via -ldflags, for example:
//
//	go build -ldflags "-X github.com/storacha/go-crx3/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

// Info returns a formatted version string suitable for --version output.
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildTime)
}

// Full returns detailed version information including Go version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// AtLeast reports whether actual >= expected. Versions are compared
// component by component on "."; missing components count as "0". Numeric
// components compare as numbers. Other components are split on "-" and
// compared part by part, numbers first and then in natural order; a
// missing "-" part after the first sorts after any present one.
func AtLeast(actual, expected string) bool {
	if expected == "" {
		return true
	}
	if actual == "" {
		return false
	}

	a := strings.Split(actual, ".")
	e := strings.Split(expected, ".")
	for i := 0; i < max(len(a), len(e)); i++ {
		ai, ei := part(a, i, "0"), part(e, i, "0")
		if ai == ei {
			continue
		}
		if !numeric(ai) || !numeric(ei) {
			return compareSuffixed(ai, ei) > 0
		}
		return compareDigits(ai, ei) > 0
	}
	return true
}

func compareSuffixed(actual, expected string) int {
	a := strings.Split(actual, "-")
	e := strings.Split(expected, "-")
	for i := 0; i < max(len(a), len(e)); i++ {
		missing := "0"
		if i > 0 {
			missing = "z"
		}
		ai, ei := part(a, i, missing), part(e, i, missing)
		if ai == ei {
			continue
		}
		if !numeric(ai) || !numeric(ei) {
			return compareNatural(ai, ei)
		}
		return compareDigits(ai, ei)
	}
	return 0
}

func part(parts []string, i int, missing string) string {
	if i < len(parts) && parts[i] != "" {
		return parts[i]
	}
	return missing
}

func numeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

// compareDigits compares two runs of decimal digits by value.
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return strings.Compare(a, b)
}

// compareNatural compares strings with embedded digit runs ordered by value,
// so "a9" < "a10".
func compareNatural(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if isDigit(a[i]) && isDigit(b[j]) {
			si, sj := i, j
			for i < len(a) && isDigit(a[i]) {
				i++
			}
			for j < len(b) && isDigit(b[j]) {
				j++
			}
			if c := compareDigits(a[si:i], b[sj:j]); c != 0 {
				return c
			}
			continue
		}
		if a[i] != b[j] {
			return int(a[i]) - int(b[j])
		}
		i++
		j++
	}
	return (len(a) - i) - (len(b) - j)
}
