// Package erp holds the routes and page structure of the Archibald ERP,
// the browser-only remote system the sync jobs scrape.
package erp

import (
	"strings"

	"github.com/archibridge/archibridge/pkg/models"
)

const (
	LoginPath = "/account/login"

	customersPath = "/clienti"
	productsPath  = "/articoli"
	pricesPath    = "/listini"
	ordersPath    = "/ordini"
	ddtPath       = "/ddt"
	invoicesPath  = "/fatture"
)

// Login form and grid selectors. The remote markup is ASP.NET-era and
// stable; grids render as plain tables.
const (
	SelectorUsernameField = `input[name="username"]`
	SelectorPasswordField = `input[name="password"]`
	SelectorLoginSubmit   = `button[type="submit"]`
	SelectorLoginError    = `.login-error`
	SelectorGridRows      = `table tbody tr`
)

// Routes builds absolute URLs into the remote system.
type Routes struct {
	BaseURL string
}

// NewRoutes normalizes the base URL (no trailing slash).
func NewRoutes(baseURL string) Routes {
	return Routes{BaseURL: strings.TrimRight(baseURL, "/")}
}

// Home is the post-login landing page.
func (r Routes) Home() string {
	return r.BaseURL + "/"
}

// Login is the login form URL.
func (r Routes) Login() string {
	return r.BaseURL + LoginPath
}

// IsLoginURL reports whether u still points at the login form. The remote
// system redirects unauthenticated requests here, so "not on the login URL"
// is the authentication check.
func (r Routes) IsLoginURL(u string) bool {
	return strings.Contains(u, LoginPath)
}

// EntityList returns the list page for a sync type.
func (r Routes) EntityList(t models.SyncType) string {
	switch t {
	case models.SyncCustomers:
		return r.BaseURL + customersPath
	case models.SyncProducts:
		return r.BaseURL + productsPath
	case models.SyncPrices:
		return r.BaseURL + pricesPath
	case models.SyncOrders:
		return r.BaseURL + ordersPath
	case models.SyncDDT:
		return r.BaseURL + ddtPath
	case models.SyncInvoices:
		return r.BaseURL + invoicesPath
	}
	return r.BaseURL
}
