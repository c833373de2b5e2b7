package jobs

import (
	"context"
	"fmt"

	"github.com/archibridge/archibridge/internal/browser"
	"github.com/archibridge/archibridge/internal/erp"
	"github.com/archibridge/archibridge/pkg/models"
)

// SyncPrices scrapes the price lists and refreshes the local mirror.
// Rows reference products by code, which is why the schedule runs the
// product sync ahead of this one.
func (j *Jobs) SyncPrices(ctx context.Context, userID string) error {
	return j.withSession(ctx, userID, func(page browser.Page) error {
		table, err := j.fetchGrid(page, models.SyncPrices)
		if err != nil {
			return err
		}
		rows := parsePrices(table)
		n, err := j.store.UpsertPrices(ctx, rows)
		if err != nil {
			return fmt.Errorf("failed to store prices: %w", err)
		}
		j.logger.Info("prices synced", "rows", n)
		return nil
	})
}

func parsePrices(t erp.Table) []models.PriceEntry {
	product := t.ColumnIndex("Articolo", "Codice articolo")
	list := t.ColumnIndex("Listino")
	price := t.ColumnIndex("Prezzo")
	validFrom := t.ColumnIndex("Valido dal", "Data inizio")

	out := make([]models.PriceEntry, 0, len(t.Rows))
	for i := range t.Rows {
		p := models.PriceEntry{
			ProductCode: t.Cell(i, product),
			PriceList:   t.Cell(i, list),
			Price:       t.Cell(i, price),
			ValidFrom:   t.Cell(i, validFrom),
		}
		if p.ProductCode == "" {
			continue
		}
		if p.PriceList == "" {
			// Single-list installations omit the column.
			p.PriceList = "default"
		}
		out = append(out, p)
	}
	return out
}
