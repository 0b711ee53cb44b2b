package model

import (
	"encoding/json"
	"fmt"
)

// DataKind tags the variant held by EventData.
type DataKind int

const (
	KindGeneric DataKind = iota
	KindNftMint
	KindNftTransfer
	KindNftBurn
	KindNftMintFlat
	KindNftTransferFlat
	KindNftBurnFlat
)

func (k DataKind) String() string {
	switch k {
	case KindGeneric:
		return "generic"
	case KindNftMint:
		return "nft_mint"
	case KindNftTransfer:
		return "nft_transfer"
	case KindNftBurn:
		return "nft_burn"
	case KindNftMintFlat:
		return "nft_mint_flat"
	case KindNftTransferFlat:
		return "nft_transfer_flat"
	case KindNftBurnFlat:
		return "nft_burn_flat"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// EventData is the event payload. Exactly one field group is meaningful,
// selected by Kind:
//   - KindGeneric: Generic
//   - KindNftMint / KindNftTransfer / KindNftBurn: the batch slices
//   - flat kinds: the single-item pointers
type EventData struct {
	Kind DataKind

	Generic json.RawMessage

	Mint     []NftMintData
	Transfer []NftTransferData
	Burn     []NftBurnData

	MintFlat     *NftMintData
	TransferFlat *NftTransferData
	BurnFlat     *NftBurnData
}

var jsonNull = json.RawMessage("null")

// GenericData wraps an opaque JSON value.
func GenericData(raw json.RawMessage) EventData {
	if len(raw) == 0 {
		raw = jsonNull
	}
	return EventData{Kind: KindGeneric, Generic: raw}
}

func NftMintBatch(items []NftMintData) EventData {
	return EventData{Kind: KindNftMint, Mint: items}
}

func NftTransferBatch(items []NftTransferData) EventData {
	return EventData{Kind: KindNftTransfer, Transfer: items}
}

func NftBurnBatch(items []NftBurnData) EventData {
	return EventData{Kind: KindNftBurn, Burn: items}
}

func NftMintFlatData(item NftMintData) EventData {
	return EventData{Kind: KindNftMintFlat, MintFlat: &item}
}

func NftTransferFlatData(item NftTransferData) EventData {
	return EventData{Kind: KindNftTransferFlat, TransferFlat: &item}
}

func NftBurnFlatData(item NftBurnData) EventData {
	return EventData{Kind: KindNftBurnFlat, BurnFlat: &item}
}

// IsBatched reports whether the payload is an ordered sequence of items.
func (d EventData) IsBatched() bool {
	switch d.Kind {
	case KindNftMint, KindNftTransfer, KindNftBurn:
		return true
	}
	return false
}

// IsFlat reports whether the payload holds exactly one item.
func (d EventData) IsFlat() bool {
	switch d.Kind {
	case KindNftMintFlat, KindNftTransferFlat, KindNftBurnFlat:
		return true
	}
	return false
}

// TokenIDs returns the token ids referenced by a flat mint or transfer item.
func (d EventData) TokenIDs() []string {
	switch d.Kind {
	case KindNftMintFlat:
		return d.MintFlat.TokenIDs
	case KindNftTransferFlat:
		return d.TransferFlat.TokenIDs
	}
	return nil
}

// WithMetadatas returns a copy of a flat mint or transfer payload carrying the
// fetched metadata. Other kinds are returned unchanged.
func (d EventData) WithMetadatas(metadatas []*TokenMetadata, extras []json.RawMessage) EventData {
	switch d.Kind {
	case KindNftMintFlat:
		item := *d.MintFlat
		item.Metadatas = metadatas
		item.MetadataExtras = extras
		return NftMintFlatData(item)
	case KindNftTransferFlat:
		item := *d.TransferFlat
		item.Metadatas = metadatas
		item.MetadataExtras = extras
		return NftTransferFlatData(item)
	}
	return d
}

func (d EventData) flatten() []EventData {
	var out []EventData
	switch d.Kind {
	case KindNftMint:
		for _, item := range d.Mint {
			out = append(out, NftMintFlatData(item))
		}
	case KindNftTransfer:
		for _, item := range d.Transfer {
			out = append(out, NftTransferFlatData(item))
		}
	case KindNftBurn:
		for _, item := range d.Burn {
			out = append(out, NftBurnFlatData(item))
		}
	}
	return out
}

// MarshalJSON encodes batches as arrays, flat items as objects and generic
// payloads as their original bytes.
func (d EventData) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case KindGeneric:
		if len(d.Generic) == 0 {
			return jsonNull, nil
		}
		return d.Generic, nil
	case KindNftMint:
		return marshalBatch(d.Mint)
	case KindNftTransfer:
		return marshalBatch(d.Transfer)
	case KindNftBurn:
		return marshalBatch(d.Burn)
	case KindNftMintFlat:
		return json.Marshal(d.MintFlat)
	case KindNftTransferFlat:
		return json.Marshal(d.TransferFlat)
	case KindNftBurnFlat:
		return json.Marshal(d.BurnFlat)
	default:
		return nil, fmt.Errorf("unknown event data kind %d", int(d.Kind))
	}
}

func marshalBatch[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

// UnmarshalJSON keeps the payload opaque. Structured decoding needs the
// standard and event name, see DecodeEventData.
func (d *EventData) UnmarshalJSON(data []byte) error {
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	*d = GenericData(raw)
	return nil
}

// DecodeEventData tries the structured NEP-171 shape for known standard and
// event names and falls back to the opaque value.
func DecodeEventData(standard, event string, raw json.RawMessage) EventData {
	if len(raw) == 0 {
		return GenericData(nil)
	}
	if standard == StandardNep171 {
		if data, ok := decodeNep171(event, raw); ok {
			return data
		}
	}
	copied := make(json.RawMessage, len(raw))
	copy(copied, raw)
	return GenericData(copied)
}
