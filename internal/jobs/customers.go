package jobs

import (
	"context"
	"fmt"

	"github.com/archibridge/archibridge/internal/browser"
	"github.com/archibridge/archibridge/internal/erp"
	"github.com/archibridge/archibridge/pkg/models"
)

// SyncCustomers scrapes the customer list and refreshes the local
// mirror.
func (j *Jobs) SyncCustomers(ctx context.Context, userID string) error {
	return j.withSession(ctx, userID, func(page browser.Page) error {
		table, err := j.fetchGrid(page, models.SyncCustomers)
		if err != nil {
			return err
		}
		rows := parseCustomers(table)
		n, err := j.store.UpsertCustomers(ctx, rows)
		if err != nil {
			return fmt.Errorf("failed to store customers: %w", err)
		}
		j.logger.Info("customers synced", "rows", n)
		return nil
	})
}

// Header names as the remote grid renders them; lookups are
// case-insensitive and fall back across the known variants.
func parseCustomers(t erp.Table) []models.Customer {
	code := t.ColumnIndex("Codice", "Codice cliente")
	name := t.ColumnIndex("Ragione sociale", "Denominazione")
	profile := t.ColumnIndex("Profilo")
	vat := t.ColumnIndex("Partita IVA", "P.IVA")
	fiscal := t.ColumnIndex("Codice fiscale")
	pec := t.ColumnIndex("PEC")
	sdi := t.ColumnIndex("Codice SDI", "SDI")
	city := t.ColumnIndex("Città", "Comune")

	out := make([]models.Customer, 0, len(t.Rows))
	for i := range t.Rows {
		c := models.Customer{
			Code:       t.Cell(i, code),
			Name:       t.Cell(i, name),
			Profile:    t.Cell(i, profile),
			VATNumber:  t.Cell(i, vat),
			FiscalCode: t.Cell(i, fiscal),
			PEC:        t.Cell(i, pec),
			SDI:        t.Cell(i, sdi),
			City:       t.Cell(i, city),
		}
		if c.Code == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}
