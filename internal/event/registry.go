package event

import "github.com/ethereum/go-ethereum/common"

type OracleRegistered struct {
	Name   string         `json:"name"`
	Oracle common.Address `json:"oracle"`
}

func (OracleRegistered) Kind() Kind { return KindOracleRegistered }

type OracleDeregistered struct {
	Name   string         `json:"name"`
	Oracle common.Address `json:"oracle"`
}

func (OracleDeregistered) Kind() Kind { return KindOracleDeregistered }

type OwnershipTransferred struct {
	PreviousOwner common.Address `json:"previous_owner"`
	NewOwner      common.Address `json:"new_owner"`
}

func (OwnershipTransferred) Kind() Kind { return KindOwnershipTransferred }
