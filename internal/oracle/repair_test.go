package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "github.com/Aman-CERP/newsline/internal/errors"
)

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain object",
			raw:  `{"query_type": "entity", "confidence": 0.9}`,
			want: `{"query_type": "entity", "confidence": 0.9}`,
		},
		{
			name: "think block stripped",
			raw:  "<think>the user wants a company</think>\n{\"query_type\": \"entity\"}",
			want: `{"query_type": "entity"}`,
		},
		{
			name: "code fence",
			raw:  "Here you go:\n```json\n{\"scores\": []}\n```\nthanks",
			want: `{"scores": []}`,
		},
		{
			name: "prose around object",
			raw:  `Sure! {"query_type": "factual"} Hope that helps.`,
			want: `{"query_type": "factual"}`,
		},
		{
			name: "trailing commas",
			raw:  `{"scores": [{"a": 0, "b": 1, "score": 0.9,},],}`,
			want: `{"scores": [{"a": 0, "b": 1, "score": 0.9}]}`,
		},
		{
			name: "brace inside string",
			raw:  `note: {"reason": "uses } and { freely", "ok": true}`,
			want: `{"reason": "uses } and { freely", "ok": true}`,
		},
		{
			name: "array",
			raw:  `result [1, 2, 3,] done`,
			want: `[1, 2, 3]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RepairJSON("oracle", tt.raw)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestRepairJSON_Unrecoverable(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"only think", "<think>hmm</think>"},
		{"truncated", `{"query_type": "entity", "confid`},
		{"no json", "I cannot answer that."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RepairJSON("oracle", tt.raw)
			require.Error(t, err)
			assert.True(t, nerrors.HasCode(err, nerrors.ErrCodeMalformedUpstream))
		})
	}
}

func TestDecode_WrongShapeIsMalformed(t *testing.T) {
	// Given: a valid JSON value of the wrong shape
	var reply classifyReply

	// When: decoding into the reply struct
	err := Decode("oracle", `["entity"]`, &reply)

	// Then: the mismatch is a malformed upstream reply
	require.Error(t, err)
	assert.True(t, nerrors.HasCode(err, nerrors.ErrCodeMalformedUpstream))
}
