package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	payload, err := NewCSVExporter().Render(Dataset{
		Headers: []string{"folder", "tier"},
		Rows: []map[string]string{
			{"folder": "/Artists/Album", "tier": "hot"},
			{"folder": "/Artists/Other", "tier": "warm"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "folder,tier\n/Artists/Album,hot\n/Artists/Other,warm\n", string(payload))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestAttachmentName(t *testing.T) {
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "zip-artifacts-20260901-120000.csv", AttachmentName("zip-artifacts", at))
}
