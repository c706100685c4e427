// Package seed loads customer balances from a YAML file into a customer
// store. The back office exports balances in this shape.
package seed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kevin07696/phonepay-ivr/internal/domain"
)

// CustomerFile is the document root
type CustomerFile struct {
	Customers []CustomerEntry `yaml:"customers"`
}

// CustomerEntry is one customer. OutstandingBalance defaults to
// OpeningBalance for a fresh import.
type CustomerEntry struct {
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	Phone              string `yaml:"phone"`
	OpeningBalance     string `yaml:"opening_balance"`
	OutstandingBalance string `yaml:"outstanding_balance,omitempty"`
}

// Upserter stores a customer, replacing any with the same id
type Upserter interface {
	Upsert(ctx context.Context, c *domain.Customer) error
}

// LoadFile reads and validates a customer file
func LoadFile(path string) ([]*domain.Customer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read customer file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates customer YAML
func Parse(data []byte) ([]*domain.Customer, error) {
	var doc CustomerFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode customer file: %w", err)
	}

	seen := make(map[string]bool, len(doc.Customers))
	phones := make(map[string]bool, len(doc.Customers))
	out := make([]*domain.Customer, 0, len(doc.Customers))
	for i, e := range doc.Customers {
		c, err := e.toDomain()
		if err != nil {
			return nil, fmt.Errorf("customer %d: %w", i+1, err)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("customer %d: duplicate id %q", i+1, c.ID)
		}
		if phones[c.Phone] {
			return nil, fmt.Errorf("customer %d: duplicate phone %q", i+1, c.Phone)
		}
		seen[c.ID] = true
		phones[c.Phone] = true
		out = append(out, c)
	}
	return out, nil
}

func (e CustomerEntry) toDomain() (*domain.Customer, error) {
	id := strings.TrimSpace(e.ID)
	phone := strings.TrimSpace(e.Phone)
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	if phone == "" {
		return nil, fmt.Errorf("phone is required")
	}

	opening, err := parseBalance("opening_balance", e.OpeningBalance)
	if err != nil {
		return nil, err
	}
	outstanding := opening
	if strings.TrimSpace(e.OutstandingBalance) != "" {
		if outstanding, err = parseBalance("outstanding_balance", e.OutstandingBalance); err != nil {
			return nil, err
		}
	}

	return &domain.Customer{
		ID:                 id,
		Name:               strings.TrimSpace(e.Name),
		Phone:              phone,
		OpeningBalance:     opening,
		OutstandingBalance: outstanding,
	}, nil
}

func parseBalance(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q: %w", field, raw, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", field)
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Zero, fmt.Errorf("%s has more than two decimal places", field)
	}
	return d, nil
}

// Import upserts every customer and stops at the first failure
func Import(ctx context.Context, store Upserter, customers []*domain.Customer, logger *zap.Logger) error {
	for _, c := range customers {
		if err := store.Upsert(ctx, c); err != nil {
			return fmt.Errorf("import customer %s: %w", c.ID, err)
		}
	}
	logger.Info("Imported customers", zap.Int("count", len(customers)))
	return nil
}
