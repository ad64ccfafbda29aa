package models

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

// USDC is an amount in micro-USDC (the token has 6 decimals). It encodes to
// JSON as a decimal number so clients see 80.5, not 80500000.
type USDC int64

const MicrosPerUSDC = 1_000_000

var (
	ErrTooPrecise = errors.New("amount has more than 6 decimal places")
	ErrOutOfRange = errors.New("amount out of range")

	microsPerUSDC = big.NewRat(MicrosPerUSDC, 1)
	maxMicros     = new(big.Rat).SetInt64(math.MaxInt64)
	minMicros     = new(big.Rat).SetInt64(math.MinInt64)

	// big.Rat also takes fractions, base prefixes and digit separators.
	decimalRE = regexp.MustCompile(`^[+-]?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][+-]?[0-9]+)?$`)
)

// ParseUSDC parses a decimal amount such as "80", "80.5" or "1e2".
func ParseUSDC(s string) (USDC, error) {
	s = strings.TrimSpace(s)
	if !decimalRE.MatchString(s) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	r.Mul(r, microsPerUSDC)
	if !r.IsInt() {
		return 0, ErrTooPrecise
	}
	if r.Cmp(maxMicros) > 0 || r.Cmp(minMicros) < 0 {
		return 0, ErrOutOfRange
	}
	return USDC(r.Num().Int64()), nil
}

// MustUSDC is ParseUSDC for constants and tests.
func MustUSDC(s string) USDC {
	u, err := ParseUSDC(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String renders the shortest exact decimal: 80, 80.5, 0.000001.
func (u USDC) String() string {
	neg := u < 0
	abs := uint64(u)
	if neg {
		abs = uint64(-u)
	}
	whole := abs / MicrosPerUSDC
	frac := abs % MicrosPerUSDC

	s := strconv.FormatUint(whole, 10)
	if frac != 0 {
		fs := fmt.Sprintf("%06d", frac)
		s += "." + strings.TrimRight(fs, "0")
	}
	if neg {
		s = "-" + s
	}
	return s
}

// Fraction returns floor(u * f), used by the agent's bid policy.
func (u USDC) Fraction(f float64) USDC {
	return USDC(math.Floor(float64(u) * f))
}

func (u USDC) MarshalJSON() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (u *USDC) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("invalid amount %s", s)
		}
		s = unq
	}
	v, err := ParseUSDC(s)
	if err != nil {
		return err
	}
	*u = v
	return nil
}
