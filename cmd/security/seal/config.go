package seal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Params controls Argon2id key derivation.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
}

// DefaultParams favours a fast unlock: the credential is read once per start.
func DefaultParams() Params {
	return Params{
		MemoryKiB:   32 * 1024,
		Iterations:  2,
		Parallelism: 1,
		SaltLength:  16,
	}
}

// Upper bounds accepted when opening; sealed strings are untrusted input.
const (
	maxMemoryKiB   = 512 * 1024
	maxIterations  = 10
	maxParallelism = 16
	maxSaltLength  = 64
)

// ParamsFromEnv loads Params from environment variables.
//
// Env surface:
// - LEXION_SEAL_ARGON2_MEMORY_KIB
// - LEXION_SEAL_ARGON2_ITERATIONS
// - LEXION_SEAL_ARGON2_PARALLELISM
func ParamsFromEnv() (Params, error) {
	p := DefaultParams()

	if v, ok := os.LookupEnv("LEXION_SEAL_ARGON2_MEMORY_KIB"); ok {
		n, err := atou32(v, 8*1024, maxMemoryKiB)
		if err != nil {
			return Params{}, fmt.Errorf("LEXION_SEAL_ARGON2_MEMORY_KIB: %w", err)
		}
		p.MemoryKiB = n
	}

	if v, ok := os.LookupEnv("LEXION_SEAL_ARGON2_ITERATIONS"); ok {
		n, err := atou32(v, 1, maxIterations)
		if err != nil {
			return Params{}, fmt.Errorf("LEXION_SEAL_ARGON2_ITERATIONS: %w", err)
		}
		p.Iterations = n
	}

	if v, ok := os.LookupEnv("LEXION_SEAL_ARGON2_PARALLELISM"); ok {
		n, err := atou32(v, 1, maxParallelism)
		if err != nil {
			return Params{}, fmt.Errorf("LEXION_SEAL_ARGON2_PARALLELISM: %w", err)
		}
		p.Parallelism = uint8(n)
	}

	return p, nil
}

func (p Params) validate() error {
	if p.MemoryKiB == 0 || p.Iterations == 0 || p.Parallelism == 0 || p.SaltLength == 0 {
		return ErrInvalidFormat
	}
	if p.MemoryKiB > maxMemoryKiB || p.Iterations > maxIterations ||
		p.Parallelism > maxParallelism || p.SaltLength > maxSaltLength {
		return ErrParamsTooHigh
	}
	return nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	s = strings.TrimSpace(s)
	u64, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}
