package state

import (
	"fmt"
	"sort"
)

func errMarketGap(want, got uint64) error {
	return fmt.Errorf("market snapshot out of order: position %d holds id %d", want, got)
}

func sortPoolKeys(keys []PoolKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].MarketID != keys[j].MarketID {
			return keys[i].MarketID < keys[j].MarketID
		}
		return keys[i].Outcome < keys[j].Outcome
	})
}
