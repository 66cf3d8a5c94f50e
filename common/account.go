package common

import "fmt"

// Account length constraints, inherited from the hosting runtime's account
// model.
const (
	minAccountIDLen = 2
	maxAccountIDLen = 64
)

// AccountID is a human-readable account identity. A valid AccountID consists
// of one or more parts separated by dots, where every part is a non-empty
// sequence of lowercase letters, digits, '-' or '_' that starts and ends
// with a letter or digit.
type AccountID string

// ParseAccountID validates s and returns it as an AccountID.
func ParseAccountID(s string) (AccountID, error) {
	a := AccountID(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccount, s)
	}
	return a, nil
}

// Valid reports whether a satisfies the account identity rules.
func (a AccountID) Valid() bool {
	if len(a) < minAccountIDLen || len(a) > maxAccountIDLen {
		return false
	}
	lastSep := true
	for i := 0; i < len(a); i++ {
		c := a[i]
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			lastSep = false
		case c == '-' || c == '_' || c == '.':
			if lastSep {
				return false
			}
			lastSep = true
		default:
			return false
		}
	}
	// trailing separator of any kind is not allowed
	c := a[len(a)-1]
	return c != '.' && c != '-' && c != '_'
}

func (a AccountID) String() string {
	return string(a)
}

// Bytes returns the account identity as a storage key fragment.
func (a AccountID) Bytes() []byte {
	return []byte(a)
}
