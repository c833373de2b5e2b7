package erp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archibridge/archibridge/pkg/models"
)

const gridPage = `
<html><body>
<div class="nav"><table><tr><td>Menu</td></tr></table></div>
<table id="grid">
  <thead>
    <tr><th>Codice</th><th>Ragione sociale</th><th>Città</th></tr>
  </thead>
  <tbody>
    <tr><td>C001</td><td>Rossi &amp; Figli</td><td>Milano</td></tr>
    <tr><td>C002</td><td><a href="/clienti/C002">Bianchi SRL</a></td><td>Torino</td></tr>
    <tr><td>C003</td><td>Verdi
        SpA</td><td></td></tr>
  </tbody>
</table>
</body></html>`

func TestParseTablesReadsHeadersAndRows(t *testing.T) {
	tables, err := ParseTables(gridPage)
	require.NoError(t, err)
	require.Len(t, tables, 2)

	grid := tables[1]
	assert.Equal(t, []string{"Codice", "Ragione sociale", "Città"}, grid.Headers)
	require.Len(t, grid.Rows, 3)
	assert.Equal(t, []string{"C001", "Rossi & Figli", "Milano"}, grid.Rows[0])
}

func TestParseTablesFlattensNestedMarkup(t *testing.T) {
	tables, err := ParseTables(gridPage)
	require.NoError(t, err)

	grid := tables[1]
	// Link text and multi-line cells collapse to plain trimmed text.
	assert.Equal(t, "Bianchi SRL", grid.Rows[1][1])
	assert.Equal(t, "Verdi SpA", grid.Rows[2][1])
	assert.Equal(t, "", grid.Rows[2][2])
}

func TestParseTablesFirstRowHeaderFallback(t *testing.T) {
	page := `<table>
		<tr><td>Numero</td><td>Totale</td></tr>
		<tr><td>ORD-1</td><td>100,00</td></tr>
	</table>`

	tables, err := ParseTables(page)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	assert.Equal(t, []string{"Numero", "Totale"}, tables[0].Headers)
	require.Len(t, tables[0].Rows, 1)
	assert.Equal(t, []string{"ORD-1", "100,00"}, tables[0].Rows[0])
}

func TestParseTablesSingleRowStaysARow(t *testing.T) {
	tables, err := ParseTables(`<table><tr><td>solo</td></tr></table>`)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	assert.Nil(t, tables[0].Headers)
	require.Len(t, tables[0].Rows, 1)
}

func TestParseTablesEmptyDocument(t *testing.T) {
	tables, err := ParseTables(`<html><body><p>Nessun dato</p></body></html>`)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestMainTablePicksTheBiggestGrid(t *testing.T) {
	tables, err := ParseTables(gridPage)
	require.NoError(t, err)

	main, ok := MainTable(tables)
	require.True(t, ok)
	assert.Len(t, main.Rows, 3)
	assert.Equal(t, "Codice", main.Headers[0])
}

func TestMainTableWithNoTables(t *testing.T) {
	_, ok := MainTable(nil)
	assert.False(t, ok)
}

func TestColumnIndexMatchesCaseInsensitively(t *testing.T) {
	table := Table{Headers: []string{"Codice", "Ragione sociale", "Città"}}

	assert.Equal(t, 0, table.ColumnIndex("codice"))
	assert.Equal(t, 1, table.ColumnIndex("RAGIONE SOCIALE"))
	// Candidates are tried in order; the first present header wins.
	assert.Equal(t, 2, table.ColumnIndex("Località", "Città"))
	assert.Equal(t, -1, table.ColumnIndex("Partita IVA"))
}

func TestCellToleratesMissingColumns(t *testing.T) {
	table := Table{Rows: [][]string{{"C001", "Rossi"}}}

	assert.Equal(t, "Rossi", table.Cell(0, 1))
	assert.Equal(t, "", table.Cell(0, -1))
	assert.Equal(t, "", table.Cell(0, 5))
	assert.Equal(t, "", table.Cell(3, 0))
}

func TestRoutesNormalizeBaseURL(t *testing.T) {
	routes := NewRoutes("https://erp.example.it/")
	assert.Equal(t, "https://erp.example.it/", routes.Home())
	assert.Equal(t, "https://erp.example.it/account/login", routes.Login())
}

func TestIsLoginURL(t *testing.T) {
	routes := NewRoutes("https://erp.example.it")

	assert.True(t, routes.IsLoginURL("https://erp.example.it/account/login?ReturnUrl=%2F"))
	assert.False(t, routes.IsLoginURL("https://erp.example.it/ordini"))
}

func TestEntityListPaths(t *testing.T) {
	routes := NewRoutes("https://erp.example.it")

	assert.Equal(t, "https://erp.example.it/clienti", routes.EntityList(models.SyncCustomers))
	assert.Equal(t, "https://erp.example.it/articoli", routes.EntityList(models.SyncProducts))
	assert.Equal(t, "https://erp.example.it/listini", routes.EntityList(models.SyncPrices))
	assert.Equal(t, "https://erp.example.it/ordini", routes.EntityList(models.SyncOrders))
	assert.Equal(t, "https://erp.example.it/ddt", routes.EntityList(models.SyncDDT))
	assert.Equal(t, "https://erp.example.it/fatture", routes.EntityList(models.SyncInvoices))
}
