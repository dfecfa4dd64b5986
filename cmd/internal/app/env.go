package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envReader reads LEXION_* variables with defaults. A malformed value keeps
// the default and is reported by err, so a typo never goes unnoticed.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func newEnvReader(lookup func(string) (string, bool)) *envReader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &envReader{lookup: lookup}
}

func (r *envReader) raw(key string) string {
	v, _ := r.lookup(key)
	return strings.TrimSpace(v)
}

func (r *envReader) fail(key, v string, why string) {
	r.errs = append(r.errs, fmt.Errorf("%s=%q: %s", key, v, why))
}

func (r *envReader) str(key, def string) string {
	if v := r.raw(key); v != "" {
		return v
	}
	return def
}

// secret returns the value untrimmed; keys may carry meaningful spaces.
func (r *envReader) secret(key string) string {
	v, _ := r.lookup(key)
	return v
}

func (r *envReader) boolean(key string, def bool) bool {
	v := r.raw(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, "not a boolean")
		return def
	}
	return b
}

// positive reads an int that must be > 0.
func (r *envReader) positive(key string, def int) int {
	v := r.raw(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		r.fail(key, v, "want a positive integer")
		return def
	}
	return n
}

// count reads a non-negative int32.
func (r *envReader) count(key string, def int32) int32 {
	v := r.raw(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n < 0 {
		r.fail(key, v, "want a non-negative integer")
		return def
	}
	return int32(n)
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := r.raw(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.fail(key, v, "want a positive duration such as 15s")
		return def
	}
	return d
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}
