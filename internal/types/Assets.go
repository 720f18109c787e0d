/*

This is a custom type for assets which contains all the state needed for amount
normalization and external transfers.

*/

package types

// Asset describes a fungible token handled by the pool.
type Asset struct {
	Denom    string `json:"denom"`    // e.g., "uatom" or an ibc/... hash denom
	Symbol   string `json:"symbol"`   // e.g., "atom"
	Decimals uint8  `json:"decimals"` // Native precision, must be <= 18
}

// Account identifies a balance holder. Addresses are opaque bech32/hex strings;
// the engine never inspects them beyond equality.
type Account = string
