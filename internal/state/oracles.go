package state

import (
	"PredictLedger/internal/errs"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// OracleRegistry is a bijection between oracle names and addresses.
type OracleRegistry struct {
	byName map[string]common.Address
	byAddr map[common.Address]string
}

func NewOracleRegistry() *OracleRegistry {
	return &OracleRegistry{
		byName: make(map[string]common.Address),
		byAddr: make(map[common.Address]string),
	}
}

// Register checks every precondition before mutating anything.
func (r *OracleRegistry) Register(name string, addr common.Address) error {
	if name == "" {
		return errs.ErrEmptyName
	}
	if addr == (common.Address{}) {
		return errs.ErrZeroAddress
	}
	if _, ok := r.byAddr[addr]; ok {
		return errs.ErrAlreadyRegistered
	}
	if _, ok := r.byName[name]; ok {
		return errs.ErrNameTaken
	}

	r.byName[name] = addr
	r.byAddr[addr] = name
	return nil
}

// Deregister removes both directions of the mapping and returns the address.
func (r *OracleRegistry) Deregister(name string) (common.Address, error) {
	addr, ok := r.byName[name]
	if !ok {
		return common.Address{}, errs.ErrOracleNotFound
	}
	delete(r.byName, name)
	delete(r.byAddr, addr)
	return addr, nil
}

func (r *OracleRegistry) IsAuthorized(addr common.Address) bool {
	_, ok := r.byAddr[addr]
	return ok
}

// Address returns the zero address for an unknown name.
func (r *OracleRegistry) Address(name string) common.Address {
	return r.byName[name]
}

// OracleRecord is one registry entry.
type OracleRecord struct {
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
}

// All returns entries sorted by name.
func (r *OracleRegistry) All() []OracleRecord {
	out := make([]OracleRecord, 0, len(r.byName))
	for name, addr := range r.byName {
		out = append(out, OracleRecord{Name: name, Address: addr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *OracleRegistry) Restore(records []OracleRecord) {
	r.byName = make(map[string]common.Address, len(records))
	r.byAddr = make(map[common.Address]string, len(records))
	for _, rec := range records {
		r.byName[rec.Name] = rec.Address
		r.byAddr[rec.Address] = rec.Name
	}
}
