package export

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

func TestExportXLSX(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(0.95, 0.9, logger)

	fields := []string{"VendorName", "Total"}
	rec := entity.NewRecord(entity.DocumentID{Stem: "a", Ext: ".pdf"}, 0, fields, time.Now())
	rec.State = constants.StateExtracted
	rec.Fields["VendorName"] = entity.FieldExtraction{Name: "VendorName", Value: entity.StrPtr("Acme"), Confidence: 0.97}
	rec.Fields["Total"] = entity.FieldExtraction{Name: "Total", Value: entity.StrPtr("9.99"), Confidence: 0.5}
	rec.EditedFields = []string{"Total", "VendorName"}

	data, err := svc.ExportXLSX(context.Background(), fields, []Item{{Tier: constants.TierLow, Records: []entity.ExtractionRecord{rec}}})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(ResultsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Tier", "Filename", "Page", "Status", "Category", "VendorName", "VendorName Confidence", "Total", "Total Confidence", "Manual Edit", "Edited Fields"}, rows[0])
	assert.Equal(t, "low", rows[1][0])
	assert.Equal(t, "a.pdf", rows[1][1])
	assert.Equal(t, "Acme", rows[1][5])
	assert.Equal(t, "97", rows[1][6])
	assert.Equal(t, "Y", rows[1][9])
	assert.Equal(t, "Total, VendorName", rows[1][10])

	summary, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	require.Len(t, summary, 3)
	assert.Equal(t, "high", summary[1][0])
	assert.Equal(t, "0", summary[1][1])
	assert.Equal(t, "low", summary[2][0])
	assert.Equal(t, "1", summary[2][1])
}

func TestExportXLSX_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewService(0.95, 0.9, nil).ExportXLSX(ctx, nil, []Item{{Tier: constants.TierHigh}})
	assert.ErrorIs(t, err, context.Canceled)
}
