package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archibridge/archibridge/internal/browser"
	"github.com/archibridge/archibridge/internal/erp"
	"github.com/archibridge/archibridge/pkg/models"
)

type gridPage struct {
	html    string
	visited []string
}

func (p *gridPage) Goto(url string) error {
	p.visited = append(p.visited, url)
	return nil
}

func (p *gridPage) URL() string {
	if len(p.visited) == 0 {
		return ""
	}
	return p.visited[len(p.visited)-1]
}

func (p *gridPage) Fill(selector, value string) error         { return nil }
func (p *gridPage) Click(selector string) error               { return nil }
func (p *gridPage) WaitForSelector(selector string) error     { return nil }
func (p *gridPage) TextContent(selector string) (string, error) { return "", nil }
func (p *gridPage) Content() (string, error)                  { return p.html, nil }

type gridSession struct{ page *gridPage }

func (s *gridSession) Page() browser.Page                    { return s.page }
func (s *gridSession) Alive() bool                           { return true }
func (s *gridSession) Cookies() ([]models.Cookie, error)     { return nil, nil }
func (s *gridSession) AddCookies(c []models.Cookie) error    { return nil }
func (s *gridSession) Close() error                          { return nil }

type fakeJobPool struct {
	mu       sync.Mutex
	session  *browser.UserSession
	failures int
	err      error
	acquires int
	released []bool
}

func (p *fakeJobPool) AcquireContext(ctx context.Context, userID string) (*browser.UserSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	if p.failures > 0 {
		p.failures--
		return nil, p.err
	}
	return p.session, nil
}

func (p *fakeJobPool) ReleaseContext(ctx context.Context, userID string, handle *browser.UserSession, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, success)
}

type fakeJobStore struct {
	customers []models.Customer
	products  []models.Product
	prices    []models.PriceEntry
	orders    []models.Order
	ddts      []models.DDT
	invoices  []models.Invoice
	err       error
}

func (s *fakeJobStore) UpsertCustomers(ctx context.Context, rows []models.Customer) (int, error) {
	s.customers = rows
	return len(rows), s.err
}

func (s *fakeJobStore) UpsertProducts(ctx context.Context, rows []models.Product) (int, error) {
	s.products = rows
	return len(rows), s.err
}

func (s *fakeJobStore) UpsertPrices(ctx context.Context, rows []models.PriceEntry) (int, error) {
	s.prices = rows
	return len(rows), s.err
}

func (s *fakeJobStore) UpsertOrders(ctx context.Context, rows []models.Order) (int, error) {
	s.orders = rows
	return len(rows), s.err
}

func (s *fakeJobStore) UpsertDDTs(ctx context.Context, rows []models.DDT) (int, error) {
	s.ddts = rows
	return len(rows), s.err
}

func (s *fakeJobStore) UpsertInvoices(ctx context.Context, rows []models.Invoice) (int, error) {
	s.invoices = rows
	return len(rows), s.err
}

func newGridJobs(html string) (*Jobs, *fakeJobPool, *fakeJobStore, *gridPage) {
	page := &gridPage{html: html}
	pool := &fakeJobPool{session: browser.NewUserSession("u1", &gridSession{page: page})}
	store := &fakeJobStore{}
	j := New(Config{
		Pool:    pool,
		Store:   store,
		BaseURL: "https://erp.example.it",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return j, pool, store, page
}

const customersHTML = `<table>
  <tr><th>Codice</th><th>Ragione sociale</th><th>Partita IVA</th><th>Città</th></tr>
  <tr><td>C001</td><td>Rossi SRL</td><td>01234567890</td><td>Milano</td></tr>
  <tr><td>C002</td><td>Bianchi SpA</td><td>09876543210</td><td>Torino</td></tr>
</table>`

func TestSyncCustomersScrapesGridIntoStore(t *testing.T) {
	j, pool, store, page := newGridJobs(customersHTML)

	require.NoError(t, j.SyncCustomers(context.Background(), "u1"))

	require.Len(t, store.customers, 2)
	assert.Equal(t, "C001", store.customers[0].Code)
	assert.Equal(t, "Rossi SRL", store.customers[0].Name)
	assert.Equal(t, "01234567890", store.customers[0].VATNumber)
	assert.Equal(t, "Milano", store.customers[0].City)

	assert.Equal(t, []string{"https://erp.example.it/clienti"}, page.visited)
	require.Equal(t, []bool{true}, pool.released)
}

func TestSyncOrdersKeepsDisplayValuesVerbatim(t *testing.T) {
	j, _, store, page := newGridJobs(`<table>
	  <tr><th>Numero ordine</th><th>Cliente</th><th>Data</th><th>Stato vendita</th><th>Stato documento</th><th>Totale</th></tr>
	  <tr><td>ORD-2024-001</td><td>Rossi SRL</td><td>12/03/2024</td><td>In lavorazione</td><td>Confermato</td><td>1.234,56 €</td></tr>
	</table>`)

	require.NoError(t, j.SyncOrders(context.Background(), "u1"))

	require.Len(t, store.orders, 1)
	// Amounts and dates stay exactly as the grid renders them.
	assert.Equal(t, "1.234,56 €", store.orders[0].Total)
	assert.Equal(t, "12/03/2024", store.orders[0].Date)
	assert.Equal(t, "In lavorazione", store.orders[0].SalesStatus)
	assert.Equal(t, []string{"https://erp.example.it/ordini"}, page.visited)
}

func TestSyncFailsWhenGridMissing(t *testing.T) {
	j, pool, _, _ := newGridJobs(`<html><body><p>Nessun dato disponibile</p></body></html>`)

	err := j.SyncCustomers(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data table")
	// The session is handed back flagged as failed so it gets rebuilt.
	require.Equal(t, []bool{false}, pool.released)
}

func TestSyncStoreErrorReleasesSessionAsFailed(t *testing.T) {
	j, pool, store, _ := newGridJobs(customersHTML)
	store.err = errors.New("disk full")

	err := j.SyncCustomers(context.Background(), "u1")
	require.Error(t, err)
	require.Equal(t, []bool{false}, pool.released)
}

func TestAcquireRetriesTransientFailures(t *testing.T) {
	j, pool, store, _ := newGridJobs(customersHTML)
	pool.failures = 1
	pool.err = errors.New("browser not ready")

	require.NoError(t, j.SyncCustomers(context.Background(), "u1"))

	assert.Equal(t, 2, pool.acquires)
	assert.Len(t, store.customers, 2)
}

func TestAcquireMissingCredentialsDoesNotRetry(t *testing.T) {
	j, pool, _, _ := newGridJobs(customersHTML)
	pool.failures = 10
	pool.err = browser.ErrCredentialsMissing

	err := j.SyncCustomers(context.Background(), "u1")

	require.ErrorIs(t, err, browser.ErrCredentialsMissing)
	assert.Equal(t, 1, pool.acquires)
	assert.Empty(t, pool.released)
}

func TestRegistryCoversEverySyncType(t *testing.T) {
	j, _, _, _ := newGridJobs("")
	registry := j.Registry()

	for _, typ := range models.SyncTypes() {
		assert.Contains(t, registry, typ)
	}
	assert.Len(t, registry, len(models.SyncTypes()))
}

func TestParseCustomersSkipsRowsWithoutCode(t *testing.T) {
	table := erp.Table{
		Headers: []string{"Codice", "Ragione sociale"},
		Rows: [][]string{
			{"C001", "Rossi SRL"},
			{"", "Riga vuota"},
			{"C002", "Bianchi SpA"},
		},
	}

	rows := parseCustomers(table)
	require.Len(t, rows, 2)
	assert.Equal(t, "C001", rows[0].Code)
	assert.Equal(t, "C002", rows[1].Code)
}

func TestParseCustomersHeaderVariants(t *testing.T) {
	table := erp.Table{
		Headers: []string{"Codice cliente", "Denominazione", "P.IVA", "Comune"},
		Rows:    [][]string{{"C010", "Verdi SNC", "11122233344", "Napoli"}},
	}

	rows := parseCustomers(table)
	require.Len(t, rows, 1)
	assert.Equal(t, "C010", rows[0].Code)
	assert.Equal(t, "Verdi SNC", rows[0].Name)
	assert.Equal(t, "11122233344", rows[0].VATNumber)
	assert.Equal(t, "Napoli", rows[0].City)
}

func TestParsePricesDefaultsMissingPriceList(t *testing.T) {
	table := erp.Table{
		Headers: []string{"Articolo", "Prezzo", "Valido dal"},
		Rows: [][]string{
			{"ART-1", "10,50", "01/01/2024"},
			{"", "9,99", "01/01/2024"},
		},
	}

	rows := parsePrices(table)
	require.Len(t, rows, 1)
	assert.Equal(t, "ART-1", rows[0].ProductCode)
	assert.Equal(t, "default", rows[0].PriceList)
	assert.Equal(t, "10,50", rows[0].Price)
}

func TestParseProducts(t *testing.T) {
	table := erp.Table{
		Headers: []string{"Codice", "Descrizione", "UM"},
		Rows:    [][]string{{"ART-1", "Vite 4x20", "PZ"}},
	}

	rows := parseProducts(table)
	require.Len(t, rows, 1)
	assert.Equal(t, "ART-1", rows[0].Code)
	assert.Equal(t, "Vite 4x20", rows[0].Description)
	assert.Equal(t, "PZ", rows[0].Unit)
}

func TestParseDDTs(t *testing.T) {
	table := erp.Table{
		Headers: []string{"Numero DDT", "Cliente", "Data", "Stato"},
		Rows:    [][]string{{"DDT-55", "Rossi SRL", "05/02/2024", "Spedito"}},
	}

	rows := parseDDTs(table)
	require.Len(t, rows, 1)
	assert.Equal(t, "DDT-55", rows[0].Number)
	assert.Equal(t, "Spedito", rows[0].Status)
}

func TestParseInvoices(t *testing.T) {
	table := erp.Table{
		Headers: []string{"Numero fattura", "Cliente", "Data", "Importo"},
		Rows:    [][]string{{"FT-2024-10", "Bianchi SpA", "28/02/2024", "2.000,00"}},
	}

	rows := parseInvoices(table)
	require.Len(t, rows, 1)
	assert.Equal(t, "FT-2024-10", rows[0].Number)
	assert.Equal(t, "2.000,00", rows[0].Amount)
}
