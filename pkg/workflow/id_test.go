package workflow

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/wfstatus/pkg/schema"
	"github.com/rendis/wfstatus/pkg/wire"
)

func TestID_String(t *testing.T) {
	id := ID{Tracker: "200707121733", Seq: 3}
	assert.Equal(t, "workflow_200707121733_0003", id.String())
	assert.Equal(t, "workflow_x_12345", ID{Tracker: "x", Seq: 12345}.String())
}

func TestParseID(t *testing.T) {
	id, err := ParseID("workflow_tracker_with_underscores_0042")
	require.NoError(t, err)
	assert.Equal(t, ID{Tracker: "tracker_with_underscores", Seq: 42}, id)

	for _, bad := range []string{"", "job_x_0001", "workflow_", "workflow_x_", "workflow__0001", "workflow_x_abc", "workflow_x_-1"} {
		_, err := ParseID(bad)
		require.Error(t, err, "input %q", bad)
		assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	}
}

func TestID_TextRoundTrip(t *testing.T) {
	id := ID{Tracker: "b5c1", Seq: 7}
	data, err := json.Marshal(map[string]ID{"id": id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"workflow_b5c1_0007"}`, string(data))

	var out map[string]ID
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, id, out["id"])
}

func TestID_EncodeDecode(t *testing.T) {
	id := ID{Tracker: "jt", Seq: 9}
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	id.Encode(w)
	require.NoError(t, w.Err())
	assert.Equal(t, []byte{0, 0, 0, 9, 2, 'j', 't'}, buf.Bytes())

	r := wire.NewReader(&buf)
	assert.Equal(t, id, DecodeID(r))
	require.NoError(t, r.Err())
}
