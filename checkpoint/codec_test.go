package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_RoundTrip(t *testing.T) {
	updatedAt := time.Date(2024, 3, 1, 10, 30, 0, 123, time.UTC)
	tests := []struct {
		name string
		cp   Checkpoint
	}{
		{
			name: "initiated without receipts",
			cp: Checkpoint{
				TransactionID: "upload-1",
				Receipts:      []Receipt{},
				PartSize:      5 * 1024 * 1024,
				FileSize:      12 * 1024 * 1024,
				UpdatedAt:     updatedAt,
			},
		},
		{
			name: "tags with arbitrary printable characters",
			cp: Checkpoint{
				TransactionID: "VXBsb2FkIElE~~/+=",
				Receipts: []Receipt{
					{PartNumber: 1, Tag: `"d41d8cd98f00b204e9800998ecf8427e"`},
					{PartNumber: 2, Tag: `~~2~~ <tag> & 'quote' \ slash`},
					{PartNumber: 3, Tag: "ünïcödé ✓"},
				},
				UpdatedAt: updatedAt,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.cp)
			require.NoError(t, err)

			got, err := Unmarshal(data)
			require.NoError(t, err)

			assert.Equal(t, tt.cp.TransactionID, got.TransactionID)
			assert.Equal(t, tt.cp.Receipts, got.Receipts)
			assert.Equal(t, tt.cp.PartSize, got.PartSize)
			assert.Equal(t, tt.cp.FileSize, got.FileSize)
			assert.True(t, tt.cp.UpdatedAt.Equal(got.UpdatedAt))
		})
	}
}

func TestMarshal_EmptyReceiptsAreKept(t *testing.T) {
	data, err := Marshal(Checkpoint{TransactionID: "upload-1"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"receipts":[]`)
	assert.Contains(t, string(data), `"version":1`)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.NotNil(t, got.Receipts)
	assert.Empty(t, got.Receipts)
}

func TestMarshal_RequiresTransactionID(t *testing.T) {
	_, err := Marshal(Checkpoint{})
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestUnmarshal_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{
			name:    "not json",
			data:    "upload-1~~etag",
			wantErr: ErrCorrupt,
		},
		{
			name:    "missing version",
			data:    `{"transactionId":"upload-1","receipts":[]}`,
			wantErr: ErrCorrupt,
		},
		{
			name:    "newer version",
			data:    `{"version":2,"transactionId":"upload-1","receipts":[]}`,
			wantErr: ErrUnsupportedVersion,
		},
		{
			name:    "missing transaction",
			data:    `{"version":1,"receipts":[]}`,
			wantErr: ErrCorrupt,
		},
		{
			name:    "gap in part numbers",
			data:    `{"version":1,"transactionId":"upload-1","receipts":[{"partNumber":1,"tag":"a"},{"partNumber":3,"tag":"c"}]}`,
			wantErr: ErrCorrupt,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.data))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
