package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// nullText creates a pgtype.Text with empty string handling
func nullText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// textValue unwraps a nullable text column
func textValue(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

// pgNumericToDecimal converts pgtype.Numeric to decimal.Decimal
func pgNumericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid || n.Int == nil {
		return decimal.Zero, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Zero, fmt.Errorf("numeric is not a finite value")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

// decimalToPgNumeric converts decimal.Decimal to pgtype.Numeric
func decimalToPgNumeric(d decimal.Decimal) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return n, fmt.Errorf("convert numeric: %w", err)
	}
	return n, nil
}

// IsUniqueViolation reports whether err is a unique constraint failure
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
