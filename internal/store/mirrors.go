package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/archibridge/archibridge/pkg/models"
)

// Upserts for the mirrored ERP entities. Each sync replaces matching rows
// wholesale; rows that disappeared remotely are kept (the dashboard decides
// what staleness means, not the mirror).

func (s *Store) UpsertCustomers(ctx context.Context, customers []models.Customer) (int, error) {
	if len(customers) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range customers {
		customers[i].SyncedAt = now
	}
	err := withRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "code"}},
				UpdateAll: true,
			}).Create(&customers).Error
		})
	}, 3)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert customers: %w", err)
	}
	return len(customers), nil
}

func (s *Store) UpsertProducts(ctx context.Context, products []models.Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range products {
		products[i].SyncedAt = now
	}
	err := withRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "code"}},
				UpdateAll: true,
			}).Create(&products).Error
		})
	}, 3)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert products: %w", err)
	}
	return len(products), nil
}

func (s *Store) UpsertPrices(ctx context.Context, prices []models.PriceEntry) (int, error) {
	if len(prices) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range prices {
		prices[i].SyncedAt = now
	}
	err := withRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "product_code"}, {Name: "price_list"}},
				UpdateAll: true,
			}).Create(&prices).Error
		})
	}, 3)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert prices: %w", err)
	}
	return len(prices), nil
}

func (s *Store) UpsertOrders(ctx context.Context, orders []models.Order) (int, error) {
	if len(orders) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range orders {
		orders[i].SyncedAt = now
	}
	err := withRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "number"}},
				UpdateAll: true,
			}).Create(&orders).Error
		})
	}, 3)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert orders: %w", err)
	}
	return len(orders), nil
}

func (s *Store) UpsertDDTs(ctx context.Context, ddts []models.DDT) (int, error) {
	if len(ddts) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range ddts {
		ddts[i].SyncedAt = now
	}
	err := withRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "number"}},
				UpdateAll: true,
			}).Create(&ddts).Error
		})
	}, 3)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert transport documents: %w", err)
	}
	return len(ddts), nil
}

func (s *Store) UpsertInvoices(ctx context.Context, invoices []models.Invoice) (int, error) {
	if len(invoices) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range invoices {
		invoices[i].SyncedAt = now
	}
	err := withRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "number"}},
				UpdateAll: true,
			}).Create(&invoices).Error
		})
	}, 3)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert invoices: %w", err)
	}
	return len(invoices), nil
}
