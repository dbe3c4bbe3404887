package event

import (
	"sort"
	"strings"
)

// Routing keys are compact strings summarizing the slices an event belongs
// to. Every channel emits the full combination lattice of its populated
// dimensions plus the broadcast key, so a subscription's predicate always
// collapses to exactly one canonical key (the combination of its populated
// dimensions) and multi-field filters keep AND semantics.

// KeyAll is the broadcast routing key every event carries.
const KeyAll = "all"

// Dimension names, fixed per channel.
const (
	DimBook     = "book"
	DimSecurity = "security"
	DimDate     = "date"
	DimCalcType = "type"
	DimClient   = "client"
	DimStatus   = "status"
	DimSeverity = "severity"
	DimCategory = "category"
)

// ChannelDimensions reports which filter dimensions a channel recognizes.
func ChannelDimensions(ch Channel) []string {
	switch ch {
	case ChannelPositions:
		return []string{DimBook, DimSecurity, DimDate}
	case ChannelInventory:
		return []string{DimSecurity, DimCalcType, DimDate}
	case ChannelLocates:
		return []string{DimSecurity, DimClient, DimStatus}
	case ChannelAlerts:
		return []string{DimSeverity, DimCategory}
	default:
		return nil
	}
}

// CombinationKey builds the canonical key string for one set of populated
// dimensions. Dimensions are sorted so key construction is order-independent;
// an empty set yields the broadcast key.
func CombinationKey(dims map[string]string) string {
	pairs := make([]string, 0, len(dims))
	for k, v := range dims {
		if v == "" {
			continue
		}
		pairs = append(pairs, k+"="+v)
	}
	if len(pairs) == 0 {
		return KeyAll
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "|")
}

// combinationLattice returns the broadcast key plus every non-empty subset
// combination of the populated dimensions.
func combinationLattice(dims map[string]string) []string {
	type pair struct{ k, v string }
	present := make([]pair, 0, len(dims))
	for k, v := range dims {
		if v != "" {
			present = append(present, pair{k, v})
		}
	}
	sort.Slice(present, func(i, j int) bool { return present[i].k < present[j].k })

	keys := make([]string, 0, 1<<len(present))
	keys = append(keys, KeyAll)
	for mask := 1; mask < 1<<len(present); mask++ {
		parts := make([]string, 0, len(present))
		for i, p := range present {
			if mask&(1<<i) != 0 {
				parts = append(parts, p.k+"="+p.v)
			}
		}
		keys = append(keys, strings.Join(parts, "|"))
	}
	return keys
}

// PositionKeys enumerates the routing keys of a position-family event.
func PositionKeys(bookID, securityID, businessDate string) []string {
	return combinationLattice(map[string]string{
		DimBook:     bookID,
		DimSecurity: securityID,
		DimDate:     businessDate,
	})
}

// InventoryKeys enumerates the routing keys of an inventory event.
func InventoryKeys(securityID, calculationType, businessDate string) []string {
	return combinationLattice(map[string]string{
		DimSecurity: securityID,
		DimCalcType: calculationType,
		DimDate:     businessDate,
	})
}

// LocateKeys enumerates the routing keys of a locate-family event.
func LocateKeys(securityID, clientID, status string) []string {
	return combinationLattice(map[string]string{
		DimSecurity: securityID,
		DimClient:   clientID,
		DimStatus:   status,
	})
}

// AlertKeys enumerates the routing keys of an alert event.
func AlertKeys(severity, category string) []string {
	return combinationLattice(map[string]string{
		DimSeverity: severity,
		DimCategory: category,
	})
}
