package nonfungible

import (
	"fmt"

	"github.com/dohalee/token-ledger/common"
)

// MetadataSpec is the metadata schema tag this implementation writes.
const MetadataSpec = "nft-1.0.0"

// Metadata describes the token collection as a whole. Validated once at
// construction and persisted as a singleton.
type Metadata struct {
	Spec    string `json:"spec" yaml:"spec"`
	Name    string `json:"name" yaml:"name"`
	Symbol  string `json:"symbol" yaml:"symbol"`
	Icon    string `json:"icon,omitempty" yaml:"icon"`
	BaseURI string `json:"base_uri,omitempty" yaml:"baseURI"`

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
	return common.ValidateReferencePair(m.Reference, m.ReferenceHash)
}

// TokenMetadata is the optional per-token metadata reference.
type TokenMetadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Media       string `json:"media,omitempty"`
	Copies      uint64 `json:"copies,omitempty"`

	Reference     string `json:"reference,omitempty"`
	ReferenceHash string `json:"reference_hash,omitempty"`
}

// Validate checks the per-token metadata invariants.
func (m *TokenMetadata) Validate() error {
	if m == nil {
		return nil
	}
	return common.ValidateReferencePair(m.Reference, m.ReferenceHash)
}
