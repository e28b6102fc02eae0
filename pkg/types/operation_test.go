package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }
func boolPtr(v bool) *bool    { return &v }

func TestEncodeArgsPositionalLayout(t *testing.T) {
	tests := []struct {
		name string
		args OperationArgs
		want string
	}{
		{"seen", SeenArgs{Seen: true}, `[true]`},
		{"keyword", KeywordArgs{Keyword: "$Label1", Set: false}, `["$Label1",false]`},
		{"add empty", AddArgs{}, `[]`},
		{"add copy", AddArgs{Copy: int64Ptr(12), Autoread: boolPtr(true)}, `[12,true]`},
		{"move", MoveArgs{Target: 3, Autoread: false}, `[3,false]`},
		{"move copy", MoveArgs{Target: 3, Autoread: true, Copy: int64Ptr(9)}, `[3,true,9]`},
		{"raw chain", RawArgs{Chain: int64Ptr(4)}, `[null,null,4]`},
		{"raw plain", RawArgs{}, `[]`},
		{"attachment", AttachmentArgs{Sequence: 2}, `[2]`},
		{"sync", SyncArgs{SyncDays: 7, KeepDays: 30, Download: true}, `[7,30,true]`},
		{"delete", DeleteArgs{}, `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeArgs(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			parsed, err := ParseArgs(tt.args.Kind(), got)
			require.NoError(t, err)
			assert.Equal(t, tt.args, parsed)
		})
	}
}

func TestParseArgsRejectsMalformed(t *testing.T) {
	tests := []struct {
		kind OperationKind
		raw  string
	}{
		{OpSeen, `[]`},
		{OpSeen, `["yes"]`},
		{OpKeyword, `["x"]`},
		{OpMove, `[null,true]`},
		{OpAttachment, `[]`},
		{OpSync, `[7,30]`},
		{OpFlag, `not json`},
		{OperationKind("bogus"), `[]`},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+tt.raw, func(t *testing.T) {
			_, err := ParseArgs(tt.kind, tt.raw)
			assert.ErrorIs(t, err, ErrInvalidArgs)
		})
	}
}

func TestParseArgsToleratesMissingOptionals(t *testing.T) {
	args, err := ParseArgs(OpAdd, "")
	require.NoError(t, err)
	assert.Equal(t, AddArgs{}, args)

	args, err = ParseArgs(OpRaw, `[5]`)
	require.NoError(t, err)
	assert.Equal(t, RawArgs{Copy: int64Ptr(5)}, args)
}

func TestNeedsUID(t *testing.T) {
	for _, k := range []OperationKind{OpSeen, OpFlag, OpAnswered, OpKeyword, OpMove, OpHeaders, OpRaw, OpBody, OpAttachment} {
		assert.True(t, k.NeedsUID(), k)
	}
	for _, k := range []OperationKind{OpAdd, OpDelete, OpSend, OpSync} {
		assert.False(t, k.NeedsUID(), k)
	}
}
