package indexer

import "nearEventStreamer/internal/model"

// ContractFilter keeps events by emitting contract. An empty list disables
// its check. Events without provenance compare as the empty contract id.
type ContractFilter struct {
	whitelist map[string]struct{}
	blacklist map[string]struct{}
}

func NewContractFilter(whitelist, blacklist []string) *ContractFilter {
	return &ContractFilter{whitelist: toSet(whitelist), blacklist: toSet(blacklist)}
}

func toSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Allow applies the whitelist, then the blacklist.
func (f *ContractFilter) Allow(e model.Event) bool {
	contract := e.ContractAccountID()
	if len(f.whitelist) > 0 {
		if _, ok := f.whitelist[contract]; !ok {
			return false
		}
	}
	if len(f.blacklist) > 0 {
		if _, ok := f.blacklist[contract]; ok {
			return false
		}
	}
	return true
}

// Apply returns the allowed events in their original order.
func (f *ContractFilter) Apply(events []model.Event) []model.Event {
	if len(f.whitelist) == 0 && len(f.blacklist) == 0 {
		return events
	}
	kept := make([]model.Event, 0, len(events))
	for _, e := range events {
		if f.Allow(e) {
			kept = append(kept, e)
		}
	}
	return kept
}
