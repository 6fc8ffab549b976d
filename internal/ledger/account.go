package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeMarket
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeCreatorFees AccountSubType = iota

	// Market sub-types
	SubTypeEscrow

	// System sub-types
	SubTypePlatformFees

	// External sub-types
	SubTypeExternalWallets
	SubTypeExternalPayouts
)

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope   `json:"scope"`
	Owner    common.Address `json:"owner"`     // user accounts only
	MarketID uint64         `json:"market_id"` // market accounts only
	SubType  AccountSubType `json:"sub_type"`
}

// NewCreatorFeeAccount is the fee balance an event creator can withdraw
func NewCreatorFeeAccount(creator common.Address) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Owner:   creator,
		SubType: SubTypeCreatorFees,
	}
}

// NewEscrowAccount holds everything staked on one event until it is paid out
func NewEscrowAccount(marketID uint64) AccountKey {
	return AccountKey{
		Scope:    AccountScopeMarket,
		MarketID: marketID,
		SubType:  SubTypeEscrow,
	}
}

// NewPlatformFeeAccount is the owner-withdrawable platform fee balance
func NewPlatformFeeAccount() AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: SubTypePlatformFees,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s", k.Owner.Hex(), k.subTypeName())
	case AccountScopeMarket:
		return fmt.Sprintf("event:%d:%s", k.MarketID, k.subTypeName())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s", k.subTypeName())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.subTypeName())
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCreatorFees:
		return "creator_fees"
	case SubTypeEscrow:
		return "escrow"
	case SubTypePlatformFees:
		return "platform_fees"
	case SubTypeExternalWallets:
		return "wallets"
	case SubTypeExternalPayouts:
		return "payouts"
	default:
		return "unknown"
	}
}
