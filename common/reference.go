package common

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// referenceHashLen is the length of a decoded reference hash (sha-256).
const referenceHashLen = 32

// ValidateReferencePair checks the off-ledger metadata reference invariant:
// reference and its content hash are both present or both absent, and the
// hash is the base58 encoding of exactly 32 bytes.
func ValidateReferencePair(ref, hash string) error {
	if (ref == "") != (hash == "") {
		return fmt.Errorf("%w: reference and reference_hash must be set together", ErrInvalidMetadata)
	}
	if hash == "" {
		return nil
	}
	raw, err := base58.Decode(hash)
	if err != nil {
		return fmt.Errorf("%w: reference_hash is not base58: %s", ErrInvalidMetadata, err)
	}
	if len(raw) != referenceHashLen {
		return fmt.Errorf("%w: reference_hash must be %d bytes, got %d",
			ErrInvalidMetadata, referenceHashLen, len(raw))
	}
	return nil
}
