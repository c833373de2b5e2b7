package jobs

import (
	"context"
	"fmt"

	"github.com/archibridge/archibridge/internal/browser"
	"github.com/archibridge/archibridge/internal/erp"
	"github.com/archibridge/archibridge/pkg/models"
)

// SyncInvoices scrapes the invoice list and refreshes the local mirror.
func (j *Jobs) SyncInvoices(ctx context.Context, userID string) error {
	return j.withSession(ctx, userID, func(page browser.Page) error {
		table, err := j.fetchGrid(page, models.SyncInvoices)
		if err != nil {
			return err
		}
		rows := parseInvoices(table)
		n, err := j.store.UpsertInvoices(ctx, rows)
		if err != nil {
			return fmt.Errorf("failed to store invoices: %w", err)
		}
		j.logger.Info("invoices synced", "rows", n)
		return nil
	})
}

func parseInvoices(t erp.Table) []models.Invoice {
	number := t.ColumnIndex("Numero fattura", "Numero")
	customer := t.ColumnIndex("Cliente", "Ragione sociale")
	date := t.ColumnIndex("Data", "Data fattura")
	amount := t.ColumnIndex("Importo", "Totale")

	out := make([]models.Invoice, 0, len(t.Rows))
	for i := range t.Rows {
		inv := models.Invoice{
			Number:       t.Cell(i, number),
			CustomerName: t.Cell(i, customer),
			Date:         t.Cell(i, date),
			Amount:       t.Cell(i, amount),
		}
		if inv.Number == "" {
			continue
		}
		out = append(out, inv)
	}
	return out
}
