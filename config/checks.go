package config

// checks.go - the individual field checks used by the pipeline.
//
// Every check is a no-op once an earlier one has failed, so a mode's
// pipeline reads as a plain list of checks in reporting order and the
// first failure wins.

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	fderr "openfd/internal/errors"
	"openfd/util"
)

type checker struct {
	err *fderr.ValidationError
}

func (c *checker) failed() bool { return c.err != nil }

func (c *checker) fail(field string, value interface{}, format string, args ...interface{}) {
	if c.err == nil {
		c.err = fderr.Invalid(field, value, format, args...)
	}
}

// hint attaches a suggestion to the recorded failure.
func (c *checker) hint(h string) {
	if c.err != nil && c.err.Hint == "" {
		c.err.Hint = h
	}
}

func (c *checker) required(field, value string) bool {
	if c.failed() {
		return false
	}
	if strings.TrimSpace(value) == "" {
		c.fail(field, nil, "%s is required", field)
		return false
	}
	return true
}

func (c *checker) fileExists(field, path string) string {
	if !c.required(field, path) {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		c.fail(field, path, "Unable to find %s: %s", field, path)
		return ""
	}
	return path
}

// pathExists accepts regular files and device nodes.
func (c *checker) pathExists(field, path string) string {
	if !c.required(field, path) {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		c.fail(field, path, "Unable to find %s: %s", field, path)
		return ""
	}
	return path
}

func (c *checker) dirExists(field, path string) string {
	if !c.required(field, path) {
		return ""
	}
	clean := stripTrailingSlash(path)
	info, err := os.Stat(clean)
	if err != nil || !info.IsDir() {
		c.fail(field, path, "Unable to find %s: %s", field, path)
		return ""
	}
	return clean
}

// parentExists checks that the directory a new file will be created in
// is present.
func (c *checker) parentExists(field, path string) string {
	if !c.required(field, path) {
		return ""
	}
	dir := filepath.Dir(path)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		c.fail(field, path, "Unable to find %s: %s", field, dir)
		return ""
	}
	return path
}

func (c *checker) executable(field, path string) string {
	if c.fileExists(field, path) == "" {
		return ""
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm()&0o111 == 0 {
		c.fail(field, path, "No execution permissions on %s: %s", field, path)
		return ""
	}
	return path
}

func (c *checker) integer(field, value string) int {
	if !c.required(field, value) {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		c.fail(field, value, "%s must be an integer (%s)", field, value)
		return 0
	}
	return n
}

func (c *checker) positive(field, value string) int {
	n := c.integer(field, value)
	if !c.failed() && n <= 0 {
		c.fail(field, value, "%s must be a positive integer (%s)", field, value)
		return 0
	}
	return n
}

// optionalInt returns 0 when value is empty.
func (c *checker) optionalInt(field, value string) int {
	if c.failed() || strings.TrimSpace(value) == "" {
		return 0
	}
	return c.positive(field, value)
}

// address accepts hex ("0x82000000") or decimal memory addresses.
func (c *checker) address(field, value string) uint64 {
	if !c.required(field, value) {
		return 0
	}
	addr, err := ParseAddress(value)
	if err != nil {
		c.fail(field, value, "Invalid address on %s: %s", field, value)
		return 0
	}
	return addr
}

func (c *checker) ipv4(field, value string) string {
	if !c.required(field, value) {
		return ""
	}
	ip, err := util.ParseIPv4(value)
	if err != nil {
		c.fail(field, value, "Invalid IP address on %s: %s", field, value)
		return ""
	}
	return ip
}

func (c *checker) port(field, value string) int {
	n := c.integer(field, value)
	if !c.failed() && (n < 1 || n > 65535) {
		c.fail(field, value, "%s out of range 1-65535 (%s)", field, value)
		return 0
	}
	return n
}

func (c *checker) seconds(field, value string) time.Duration {
	return time.Duration(c.positive(field, value)) * time.Second
}

func (c *checker) oneOf(field, value string, allowed ...string) string {
	if !c.required(field, value) {
		return ""
	}
	for _, a := range allowed {
		if value == a {
			return value
		}
	}
	c.fail(field, value, "must be one of %s", strings.Join(allowed, ", "))
	return ""
}

// ── helpers ──────────────────────────────────────────────────────────

// ParseAddress parses a hex (0x-prefixed) or decimal memory address.
func ParseAddress(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty address")
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, err
	}
	return v, nil
}

func stripTrailingSlash(p string) string {
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
