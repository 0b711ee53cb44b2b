package model

import (
	"encoding/json"
	"fmt"
)

// Token is the NEP-171 `nft_token` view result plus indexing fields.
type Token struct {
	ID                 *string           `json:"_id,omitempty"`
	TokenID            string            `json:"token_id"`
	OwnerID            string            `json:"owner_id"`
	Metadata           *TokenMetadata    `json:"metadata,omitempty"`
	MetadataExtra      json.RawMessage   `json:"metadata_extra,omitempty"`
	ApprovedAccountIDs map[string]uint64 `json:"approved_account_ids,omitempty"`
	ContractAccountID  *string           `json:"contract_account_id,omitempty"`
}

// TokenMetadata is NEP-177 token metadata. Timestamps stay opaque strings.
type TokenMetadata struct {
	Title         *string `json:"title"`
	Description   *string `json:"description"`
	Media         *string `json:"media"`
	MediaHash     *string `json:"media_hash"`
	Copies        *uint64 `json:"copies"`
	IssuedAt      *string `json:"issued_at"`
	ExpiresAt     *string `json:"expires_at"`
	StartsAt      *string `json:"starts_at"`
	UpdatedAt     *string `json:"updated_at"`
	Extra         *string `json:"extra"`
	Reference     *string `json:"reference"`
	ReferenceHash *string `json:"reference_hash"`
	CollectionID  *string `json:"collection_id,omitempty"`
}

// BuildTokenID returns the composite "{contract}:{token}" identifier.
func BuildTokenID(contractID, tokenID string) string {
	return fmt.Sprintf("%s:%s", contractID, tokenID)
}

// DeriveID builds the composite id when the contract is known.
func (t Token) DeriveID() (string, bool) {
	if t.ContractAccountID == nil {
		return "", false
	}
	return BuildTokenID(*t.ContractAccountID, t.TokenID), true
}

// SetID stores the derived id, clearing it when the contract is unknown.
func (t *Token) SetID() {
	id, ok := t.DeriveID()
	if !ok {
		t.ID = nil
		return
	}
	t.ID = &id
}

// GetID prefers an explicit id over the derived one.
func (t Token) GetID() (string, bool) {
	if t.ID != nil {
		return *t.ID, true
	}
	return t.DeriveID()
}

// ParseExtra decodes the free-form extra string as JSON. Missing or
// non-JSON extras yield nil.
func (m *TokenMetadata) ParseExtra() json.RawMessage {
	if m == nil || m.Extra == nil {
		return nil
	}
	var v json.RawMessage
	if err := json.Unmarshal([]byte(*m.Extra), &v); err != nil {
		return nil
	}
	return v
}
