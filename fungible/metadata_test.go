package fungible_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dohalee/token-ledger/common"
	"github.com/dohalee/token-ledger/fungible"
)

// base58 of 32 zero bytes
var refHash = strings.Repeat("1", 32)

func TestMetadataValidate(t *testing.T) {
	md := fungible.Metadata{
		Spec:     fungible.MetadataSpec,
		Name:     "Example Token",
		Symbol:   "EXT",
		Decimals: 18,
	}
	require.NoError(t, md.Validate())

	md.Reference = "https://example.com/token.json"
	md.ReferenceHash = refHash
	require.NoError(t, md.Validate())

	for name, brk := range map[string]func(m *fungible.Metadata){
		"empty spec":       func(m *fungible.Metadata) { m.Spec = "" },
		"empty name":       func(m *fungible.Metadata) { m.Name = "" },
		"empty symbol":     func(m *fungible.Metadata) { m.Symbol = "" },
		"decimals too big": func(m *fungible.Metadata) { m.Decimals = 39 },
		"hash without ref": func(m *fungible.Metadata) { m.Reference = "" },
		"ref without hash": func(m *fungible.Metadata) { m.ReferenceHash = "" },
		"hash not base58":  func(m *fungible.Metadata) { m.ReferenceHash = "0OIl" },
		"hash too short":   func(m *fungible.Metadata) { m.ReferenceHash = "11" },
	} {
		bad := md
		brk(&bad)
		require.ErrorIs(t, bad.Validate(), common.ErrInvalidMetadata, name)
	}
}
