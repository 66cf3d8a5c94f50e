package fungible

import (
	"fmt"

	"github.com/dohalee/token-ledger/common"
)

// MetadataSpec is the metadata schema tag this implementation writes.
const MetadataSpec = "ft-1.0.0"

// maxDecimals bounds the decimals field; a 128-bit balance carries at most
// 38 significant decimal digits.
const maxDecimals = 38

// Metadata describes the fungible token. Validated once at construction and
// persisted as a singleton.
type Metadata struct {
	Spec     string `json:"spec" yaml:"spec"`
	Name     string `json:"name" yaml:"name"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Icon     string `json:"icon,omitempty" yaml:"icon"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`

	// Reference points at off-ledger metadata; ReferenceHash is the
	// base58-encoded sha-256 of its content. Both are present or both are
	// absent.
	Reference     string `json:"reference,omitempty" yaml:"reference"`
	ReferenceHash string `json:"reference_hash,omitempty" yaml:"referenceHash"`
}

// Validate checks the metadata invariants.
func (m Metadata) Validate() error {
	if m.Spec == "" {
		return fmt.Errorf("%w: empty spec tag", common.ErrInvalidMetadata)
	}
	if m.Name == "" || m.Symbol == "" {
		return fmt.Errorf("%w: name and symbol are required", common.ErrInvalidMetadata)
	}
	if m.Decimals > maxDecimals {
		return fmt.Errorf("%w: decimals %d out of range [0, %d]",
			common.ErrInvalidMetadata, m.Decimals, maxDecimals)
	}
	return common.ValidateReferencePair(m.Reference, m.ReferenceHash)
}
