package jobs

import (
	"context"
	"fmt"

	"github.com/archibridge/archibridge/internal/browser"
	"github.com/archibridge/archibridge/internal/erp"
	"github.com/archibridge/archibridge/pkg/models"
)

// SyncProducts scrapes the article list and refreshes the local mirror.
func (j *Jobs) SyncProducts(ctx context.Context, userID string) error {
	return j.withSession(ctx, userID, func(page browser.Page) error {
		table, err := j.fetchGrid(page, models.SyncProducts)
		if err != nil {
			return err
		}
		rows := parseProducts(table)
		n, err := j.store.UpsertProducts(ctx, rows)
		if err != nil {
			return fmt.Errorf("failed to store products: %w", err)
		}
		j.logger.Info("products synced", "rows", n)
		return nil
	})
}

func parseProducts(t erp.Table) []models.Product {
	code := t.ColumnIndex("Codice", "Codice articolo")
	desc := t.ColumnIndex("Descrizione")
	unit := t.ColumnIndex("UM", "Unità")

	out := make([]models.Product, 0, len(t.Rows))
	for i := range t.Rows {
		p := models.Product{
			Code:        t.Cell(i, code),
			Description: t.Cell(i, desc),
			Unit:        t.Cell(i, unit),
		}
		if p.Code == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
