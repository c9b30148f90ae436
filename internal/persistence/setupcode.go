package persistence

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
)

const (
	setupCodeMin = 10000000
	setupCodeMax = 99999999

	// SetupID is appended to the setup URI.
	SetupID = "LRHK"

	// setupFlagsIP and setupCategoryBridge are the pairing flags and
	// accessory category encoded into the setup payload.
	setupFlagsIP        = 2
	setupCategoryBridge = 2

	setupPayloadDigits = 9
)

// GenerateSetupCode returns a random 8-digit pairing code in
// [10000000, 99999999).
func GenerateSetupCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(setupCodeMax-setupCodeMin))
	if err != nil {
		return "", fmt.Errorf("generating setup code: %w", err)
	}
	return strconv.FormatInt(n.Int64()+setupCodeMin, 10), nil
}

// ValidSetupCode reports whether code is exactly 8 decimal digits.
func ValidSetupCode(code string) bool {
	if len(code) != 8 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// FormatSetupCode renders a code as XXXX-XXXX.
func FormatSetupCode(code string) string {
	if len(code) != 8 {
		return code
	}
	return code[:4] + "-" + code[4:]
}

// SetupURI builds the pairing URI: X-HM:// followed by the base36 payload
// and the setup ID.
func SetupURI(code string) (string, error) {
	if !ValidSetupCode(code) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSetupCode, code)
	}
	n, _ := strconv.ParseUint(code, 10, 64) //nolint:errcheck // validated above
	payload := uint64(setupFlagsIP)<<31 | uint64(setupCategoryBridge)<<27 | n
	return "X-HM://" + base36(payload, setupPayloadDigits) + SetupID, nil
}

// base36 encodes n as exactly width upper-case base36 digits, keeping the
// least significant digits when n does not fit.
func base36(n uint64, width int) string {
	const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		out[i] = digits[n%36]
		n /= 36
	}
	return string(out)
}
