package jsoncodec

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearEventStreamer/internal/model"
)

func TestMarshalKeepsEventShape(t *testing.T) {
	line := `{"standard":"nep171","version":"1.0.0","event":"nft_burn","data":[{"owner_id":"a","token_ids":["1"]}]}`

	var e model.Event
	require.NoError(t, Unmarshal([]byte(line), &e))
	require.Equal(t, model.KindNftBurn, e.Data.Kind)

	out, err := Marshal(e)
	require.NoError(t, err)

	want, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(out))
}

func TestEncodeAppendsNewline(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, Encode(buf, map[string]int{"height": 100}))
	assert.Equal(t, "{\"height\":100}\n", buf.String())
}
