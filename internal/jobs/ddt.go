package jobs

import (
	"context"
	"fmt"

	"github.com/archibridge/archibridge/internal/browser"
	"github.com/archibridge/archibridge/internal/erp"
	"github.com/archibridge/archibridge/pkg/models"
)

// SyncDDT scrapes the transport document list and refreshes the local
// mirror.
func (j *Jobs) SyncDDT(ctx context.Context, userID string) error {
	return j.withSession(ctx, userID, func(page browser.Page) error {
		table, err := j.fetchGrid(page, models.SyncDDT)
		if err != nil {
			return err
		}
		rows := parseDDTs(table)
		n, err := j.store.UpsertDDTs(ctx, rows)
		if err != nil {
			return fmt.Errorf("failed to store transport documents: %w", err)
		}
		j.logger.Info("transport documents synced", "rows", n)
		return nil
	})
}

func parseDDTs(t erp.Table) []models.DDT {
	number := t.ColumnIndex("Numero DDT", "Numero")
	customer := t.ColumnIndex("Cliente", "Ragione sociale")
	date := t.ColumnIndex("Data", "Data DDT")
	status := t.ColumnIndex("Stato")

	out := make([]models.DDT, 0, len(t.Rows))
	for i := range t.Rows {
		d := models.DDT{
			Number:       t.Cell(i, number),
			CustomerName: t.Cell(i, customer),
			Date:         t.Cell(i, date),
			Status:       t.Cell(i, status),
		}
		if d.Number == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}
