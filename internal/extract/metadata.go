package extract

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/kotae/internal/models"
)

// ParseMetadataWorkbook reads the first data row of a tenant's metadata
// workbook (metadata.xlsx) and maps its columns onto a TenantMetadata record.
// Column headers are matched case-insensitively; "services summary" and
// "services_summary" are both accepted. Missing columns yield empty fields.
// Returns an error if the workbook cannot be opened or has no data row; the
// ingestion pipeline treats that as best-effort and proceeds with an empty
// record.
func ParseMetadataWorkbook(path string) (models.TenantMetadata, error) {
	var meta models.TenantMetadata
	f, err := excelize.OpenFile(path)
	if err != nil {
		return meta, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return meta, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return meta, fmt.Errorf("get rows: %w", err)
	}
	if len(rows) < 2 {
		return meta, fmt.Errorf("workbook has no data row")
	}

	header := rows[0]
	first := rows[1]
	cell := func(names ...string) string {
		for i, h := range header {
			h = strings.ToLower(strings.TrimSpace(h))
			for _, name := range names {
				if h == name {
					if i < len(first) {
						return strings.TrimSpace(first[i])
					}
					return ""
				}
			}
		}
		return ""
	}

	meta.Name = cell("name")
	meta.Email = cell("email")
	meta.Phone = cell("phone")
	meta.ServicesSummary = cell("services summary", "services_summary")
	meta.Charges = cell("charges")
	return meta, nil
}
