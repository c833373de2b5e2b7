package jobs

import (
	"context"
	"fmt"

	"github.com/archibridge/archibridge/internal/browser"
	"github.com/archibridge/archibridge/internal/erp"
	"github.com/archibridge/archibridge/pkg/models"
)

// SyncOrders scrapes the order list and refreshes the local mirror.
func (j *Jobs) SyncOrders(ctx context.Context, userID string) error {
	return j.withSession(ctx, userID, func(page browser.Page) error {
		table, err := j.fetchGrid(page, models.SyncOrders)
		if err != nil {
			return err
		}
		rows := parseOrders(table)
		n, err := j.store.UpsertOrders(ctx, rows)
		if err != nil {
			return fmt.Errorf("failed to store orders: %w", err)
		}
		j.logger.Info("orders synced", "rows", n)
		return nil
	})
}

func parseOrders(t erp.Table) []models.Order {
	number := t.ColumnIndex("Numero ordine", "Numero")
	customer := t.ColumnIndex("Cliente", "Ragione sociale")
	date := t.ColumnIndex("Data", "Data ordine")
	salesStatus := t.ColumnIndex("Stato vendita")
	docStatus := t.ColumnIndex("Stato documento")
	total := t.ColumnIndex("Totale", "Importo")

	out := make([]models.Order, 0, len(t.Rows))
	for i := range t.Rows {
		o := models.Order{
			Number:         t.Cell(i, number),
			CustomerName:   t.Cell(i, customer),
			Date:           t.Cell(i, date),
			SalesStatus:    t.Cell(i, salesStatus),
			DocumentStatus: t.Cell(i, docStatus),
			Total:          t.Cell(i, total),
		}
		if o.Number == "" {
			continue
		}
		out = append(out, o)
	}
	return out
}
