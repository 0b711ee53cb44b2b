package model

import "encoding/json"

const (
	StandardNep171 = "nep171"

	EventNftMint     = "nft_mint"
	EventNftTransfer = "nft_transfer"
	EventNftBurn     = "nft_burn"
)

// NftMintData is one nft_mint item. Metadatas and MetadataExtras are only set
// on enriched flat copies and line up with TokenIDs.
type NftMintData struct {
	OwnerID        string            `json:"owner_id"`
	TokenIDs       []string          `json:"token_ids"`
	Memo           *string           `json:"memo,omitempty"`
	Metadatas      []*TokenMetadata  `json:"metadatas,omitempty"`
	MetadataExtras []json.RawMessage `json:"metadata_extras,omitempty"`
}

// NftTransferData is one nft_transfer item.
type NftTransferData struct {
	AuthorizedID   *string           `json:"authorized_id,omitempty"`
	OldOwnerID     string            `json:"old_owner_id"`
	NewOwnerID     string            `json:"new_owner_id"`
	TokenIDs       []string          `json:"token_ids"`
	Memo           *string           `json:"memo,omitempty"`
	Metadatas      []*TokenMetadata  `json:"metadatas,omitempty"`
	MetadataExtras []json.RawMessage `json:"metadata_extras,omitempty"`
}

// NftBurnData is one nft_burn item.
type NftBurnData struct {
	AuthorizedID *string  `json:"authorized_id,omitempty"`
	OwnerID      string   `json:"owner_id"`
	TokenIDs     []string `json:"token_ids"`
	Memo         *string  `json:"memo,omitempty"`
}

// Required item fields per event. Items missing one, or holding null, are not
// NEP-171 and keep the payload generic.
var nep171RequiredFields = map[string][]string{
	EventNftMint:     {"owner_id", "token_ids"},
	EventNftTransfer: {"old_owner_id", "new_owner_id", "token_ids"},
	EventNftBurn:     {"owner_id", "token_ids"},
}

func decodeNep171(event string, raw json.RawMessage) (EventData, bool) {
	required, ok := nep171RequiredFields[event]
	if !ok || !itemsHaveFields(raw, required) {
		return EventData{}, false
	}

	switch event {
	case EventNftMint:
		var items []NftMintData
		if err := json.Unmarshal(raw, &items); err != nil || items == nil {
			return EventData{}, false
		}
		return NftMintBatch(items), true
	case EventNftTransfer:
		var items []NftTransferData
		if err := json.Unmarshal(raw, &items); err != nil || items == nil {
			return EventData{}, false
		}
		return NftTransferBatch(items), true
	case EventNftBurn:
		var items []NftBurnData
		if err := json.Unmarshal(raw, &items); err != nil || items == nil {
			return EventData{}, false
		}
		return NftBurnBatch(items), true
	}
	return EventData{}, false
}

func itemsHaveFields(raw json.RawMessage, fields []string) bool {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return false
	}
	for _, item := range items {
		if item == nil {
			return false
		}
		for _, f := range fields {
			v, ok := item[f]
			if !ok || string(v) == "null" {
				return false
			}
		}
	}
	return true
}
