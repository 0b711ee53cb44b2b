package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mintLine = `{"standard":"nep171","version":"1.0.0","event":"nft_mint","data":[{"owner_id":"alice.near","token_ids":["1","2"]},{"owner_id":"bob.near","token_ids":["3"]}]}`

func testEmitInfo() EmitInfo {
	return EmitInfo{
		ReceiptID:         "rcpt",
		BlockHeight:       100,
		BlockTimestamp:    1700000000000000000,
		ShardID:           2,
		ContractAccountID: "nft.near",
	}
}

func TestEventKeys(t *testing.T) {
	e := Event{Standard: "nep171", Version: "1.0.0", Event: "nft_mint", Data: GenericData(nil)}

	assert.Equal(t, "nep171.nft_mint", e.Key())
	assert.Equal(t, "nep171.nft_mint", e.DefaultKey())
	assert.Equal(t, "near.nep171.nft_mint", e.Topic("near"))

	withInfo := e.WithEmitInfo(testEmitInfo())
	assert.Equal(t, "nft.near", withInfo.Key())
	assert.Equal(t, "nep171.nft_mint", withInfo.DefaultKey())
	assert.Equal(t, "near.nep171.nft_mint", withInfo.Topic("near"))
	assert.Equal(t, "nft.near", withInfo.ContractAccountID())
	assert.Equal(t, "", e.ContractAccountID())
}

func TestEventUnmarshalNep171Mint(t *testing.T) {
	var e Event
	require.NoError(t, json.Unmarshal([]byte(mintLine), &e))

	assert.Equal(t, "nep171", e.Standard)
	assert.Equal(t, "1.0.0", e.Version)
	assert.Equal(t, "nft_mint", e.Event)
	assert.Nil(t, e.EmitInfo)
	require.Equal(t, KindNftMint, e.Data.Kind)
	require.Len(t, e.Data.Mint, 2)
	assert.Equal(t, "alice.near", e.Data.Mint[0].OwnerID)
	assert.Equal(t, []string{"1", "2"}, e.Data.Mint[0].TokenIDs)
	assert.True(t, e.Data.IsBatched())
}

func TestEventUnmarshalFallsBackToGeneric(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "unknown standard",
			line: `{"standard":"nep141","version":"1.0.0","event":"ft_mint","data":[{"owner_id":"a","amount":"1"}]}`,
			want: `[{"owner_id":"a","amount":"1"}]`,
		},
		{
			name: "nep171 with unexpected shape",
			line: `{"standard":"nep171","version":"1.0.0","event":"nft_mint","data":{"owner_id":"a"}}`,
			want: `{"owner_id":"a"}`,
		},
		{
			name: "nep171 unknown event",
			line: `{"standard":"nep171","version":"1.0.0","event":"contract_metadata_update","data":[]}`,
			want: `[]`,
		},
		{
			name: "null data",
			line: `{"standard":"nep171","version":"1.0.0","event":"nft_mint","data":null}`,
			want: `null`,
		},
		{
			name: "mint items without owner and tokens",
			line: `{"standard":"nep171","version":"1.0.0","event":"nft_mint","data":[{"owner":"alice.near","tokens":["1"],"extra_field":7}]}`,
			want: `[{"owner":"alice.near","tokens":["1"],"extra_field":7}]`,
		},
		{
			name: "mint item with null token ids",
			line: `{"standard":"nep171","version":"1.0.0","event":"nft_mint","data":[{"owner_id":"a","token_ids":["1"]},{"owner_id":"b","token_ids":null}]}`,
			want: `[{"owner_id":"a","token_ids":["1"]},{"owner_id":"b","token_ids":null}]`,
		},
		{
			name: "transfer item without new owner",
			line: `{"standard":"nep171","version":"1.0.0","event":"nft_transfer","data":[{"old_owner_id":"a","token_ids":["1"]}]}`,
			want: `[{"old_owner_id":"a","token_ids":["1"]}]`,
		},
		{
			name: "burn item without token ids",
			line: `{"standard":"nep171","version":"1.0.0","event":"nft_burn","data":[{"owner_id":"a"}]}`,
			want: `[{"owner_id":"a"}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Event
			require.NoError(t, json.Unmarshal([]byte(tt.line), &e))
			require.Equal(t, KindGeneric, e.Data.Kind)
			assert.JSONEq(t, tt.want, string(e.Data.Generic))
			assert.Empty(t, e.Flatten())

			out, err := json.Marshal(e)
			require.NoError(t, err)
			assert.Equal(t, tt.line, string(out), "payload is republished untouched")
		})
	}
}

func TestEventUnmarshalRejectsIncompleteEnvelope(t *testing.T) {
	lines := []string{
		`{"version":"1.0.0","event":"nft_mint","data":[]}`,
		`{"standard":"nep171","event":"nft_mint","data":[]}`,
		`{"standard":"nep171","version":"1.0.0","data":[]}`,
		`{"standard":"nep171","version":"1.0.0","event":"nft_mint"}`,
		`[1,2,3]`,
		`{"standard":`,
	}
	for _, line := range lines {
		var e Event
		assert.Error(t, json.Unmarshal([]byte(line), &e), line)
	}
}

func TestEventFlattenBatch(t *testing.T) {
	var e Event
	require.NoError(t, json.Unmarshal([]byte(mintLine), &e))
	e = e.WithEmitInfo(testEmitInfo())

	flat := e.Flatten()
	require.Len(t, flat, 2)
	for i, fe := range flat {
		require.Equal(t, KindNftMintFlat, fe.Data.Kind)
		assert.Equal(t, e.Data.Mint[i].OwnerID, fe.Data.MintFlat.OwnerID)
		require.NotNil(t, fe.EmitInfo)
		assert.Equal(t, *e.EmitInfo, *fe.EmitInfo)
		assert.NotSame(t, e.EmitInfo, fe.EmitInfo)
		assert.True(t, fe.Data.IsFlat())
		assert.Empty(t, fe.Flatten(), "flat payloads are terminal")
	}
	assert.Equal(t, []string{"3"}, flat[1].Data.TokenIDs())
}

func TestEventFlattenTransferAndBurn(t *testing.T) {
	line := `{"standard":"nep171","version":"1.0.0","event":"nft_transfer","data":[{"old_owner_id":"a","new_owner_id":"b","token_ids":["7"],"memo":"gift"}]}`
	var transfer Event
	require.NoError(t, json.Unmarshal([]byte(line), &transfer))
	flat := transfer.Flatten()
	require.Len(t, flat, 1)
	require.Equal(t, KindNftTransferFlat, flat[0].Data.Kind)
	assert.Equal(t, "b", flat[0].Data.TransferFlat.NewOwnerID)
	require.NotNil(t, flat[0].Data.TransferFlat.Memo)
	assert.Equal(t, "gift", *flat[0].Data.TransferFlat.Memo)

	line = `{"standard":"nep171","version":"1.0.0","event":"nft_burn","data":[{"owner_id":"a","token_ids":["1"]},{"owner_id":"c","token_ids":["2"]}]}`
	var burn Event
	require.NoError(t, json.Unmarshal([]byte(line), &burn))
	flat = burn.Flatten()
	require.Len(t, flat, 2)
	assert.Equal(t, KindNftBurnFlat, flat[1].Data.Kind)
	assert.Nil(t, flat[1].Data.TokenIDs())
}

func TestEventMarshalShapes(t *testing.T) {
	var e Event
	require.NoError(t, json.Unmarshal([]byte(mintLine), &e))

	out, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"standard":"nep171","version":"1.0.0","event":"nft_mint","data":[{"owner_id":"alice.near","token_ids":["1","2"]},{"owner_id":"bob.near","token_ids":["3"]}]}`, string(out))

	flat := e.WithEmitInfo(testEmitInfo()).Flatten()[1]
	title := "Three"
	enriched := flat.WithData(flat.Data.WithMetadatas(
		[]*TokenMetadata{{Title: &title}},
		[]json.RawMessage{nil},
	))
	out, err = json.Marshal(enriched)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	data, ok := decoded["data"].(map[string]any)
	require.True(t, ok, "flat payload encodes as an object")
	assert.Equal(t, "bob.near", data["owner_id"])
	metadatas, ok := data["metadatas"].([]any)
	require.True(t, ok)
	require.Len(t, metadatas, 1)
	assert.Equal(t, "Three", metadatas[0].(map[string]any)["title"])
	assert.Equal(t, []any{nil}, data["metadata_extras"])

	emitInfo, ok := decoded["emit_info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "nft.near", emitInfo["contract_account_id"])
	assert.EqualValues(t, 100, emitInfo["block_height"])

	// the source flat item is untouched by enrichment
	assert.Nil(t, flat.Data.MintFlat.Metadatas)
}

func TestEventWithDataDoesNotShareEmitInfo(t *testing.T) {
	e := Event{Standard: "s", Version: "1", Event: "x", Data: GenericData(nil)}.WithEmitInfo(testEmitInfo())
	clone := e.WithData(GenericData(json.RawMessage(`{"a":1}`)))
	clone.EmitInfo.ReceiptID = "other"
	assert.Equal(t, "rcpt", e.EmitInfo.ReceiptID)
	assert.Equal(t, KindGeneric, e.Data.Kind)
	assert.JSONEq(t, `null`, string(e.Data.Generic))
}

func TestDataKindString(t *testing.T) {
	assert.Equal(t, "nft_transfer_flat", KindNftTransferFlat.String())
	assert.Equal(t, "kind(42)", DataKind(42).String())
}
