package models

import "time"

// Mirrored ERP entities. One row per remote record, upserted on every sync;
// the natural key of each entity is its remote code or document number.

// Customer mirrors one "clienti" row.
type Customer struct {
	Code       string    `json:"code" gorm:"primaryKey;column:code"`
	Name       string    `json:"name" gorm:"column:name"`
	Profile    string    `json:"profile,omitempty" gorm:"column:profile"`
	VATNumber  string    `json:"vatNumber,omitempty" gorm:"column:vat_number"`
	FiscalCode string    `json:"fiscalCode,omitempty" gorm:"column:fiscal_code"`
	PEC        string    `json:"pec,omitempty" gorm:"column:pec"`
	SDI        string    `json:"sdi,omitempty" gorm:"column:sdi"`
	City       string    `json:"city,omitempty" gorm:"column:city"`
	SyncedAt   time.Time `json:"syncedAt" gorm:"column:synced_at"`
}

// Product mirrors one "articoli" row.
type Product struct {
	Code        string    `json:"code" gorm:"primaryKey;column:code"`
	Description string    `json:"description" gorm:"column:description"`
	Unit        string    `json:"unit,omitempty" gorm:"column:unit"`
	SyncedAt    time.Time `json:"syncedAt" gorm:"column:synced_at"`
}

// PriceEntry mirrors one price-list row. Rows reference products by code,
// which is why the product sync must land before the price sync.
type PriceEntry struct {
	ProductCode string    `json:"productCode" gorm:"primaryKey;column:product_code"`
	PriceList   string    `json:"priceList" gorm:"primaryKey;column:price_list"`
	Price       string    `json:"price" gorm:"column:price"`
	ValidFrom   string    `json:"validFrom,omitempty" gorm:"column:valid_from"`
	SyncedAt    time.Time `json:"syncedAt" gorm:"column:synced_at"`
}

// Order mirrors one "ordini" row, e.g. number "ORD/26000887" with sales
// status "Ordine aperto" or "Consegnato".
type Order struct {
	Number         string    `json:"number" gorm:"primaryKey;column:number"`
	CustomerName   string    `json:"customerName" gorm:"column:customer_name"`
	Date           string    `json:"date,omitempty" gorm:"column:date"`
	SalesStatus    string    `json:"salesStatus,omitempty" gorm:"column:sales_status"`
	DocumentStatus string    `json:"documentStatus,omitempty" gorm:"column:document_status"`
	Total          string    `json:"total,omitempty" gorm:"column:total"`
	SyncedAt       time.Time `json:"syncedAt" gorm:"column:synced_at"`
}

// DDT mirrors one transport document row.
type DDT struct {
	Number       string    `json:"number" gorm:"primaryKey;column:number"`
	CustomerName string    `json:"customerName" gorm:"column:customer_name"`
	Date         string    `json:"date,omitempty" gorm:"column:date"`
	Status       string    `json:"status,omitempty" gorm:"column:status"`
	SyncedAt     time.Time `json:"syncedAt" gorm:"column:synced_at"`
}

// Invoice mirrors one "fatture" row.
type Invoice struct {
	Number       string    `json:"number" gorm:"primaryKey;column:number"`
	CustomerName string    `json:"customerName" gorm:"column:customer_name"`
	Date         string    `json:"date,omitempty" gorm:"column:date"`
	Amount       string    `json:"amount,omitempty" gorm:"column:amount"`
	SyncedAt     time.Time `json:"syncedAt" gorm:"column:synced_at"`
}
