package firestore

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is persisted as decimal strings so no precision is lost to float64.

func encodeDecimal(d decimal.Decimal) string {
	return d.String()
}

func decodeDecimal(field, value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode %s: %w", field, err)
	}
	return d, nil
}

func encodeDecimalPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func decodeDecimalPtr(field string, value *string) (*decimal.Decimal, error) {
	if value == nil {
		return nil, nil
	}
	d, err := decodeDecimal(field, *value)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func encodePriceMap(prices map[string]decimal.Decimal) map[string]string {
	if len(prices) == 0 {
		return nil
	}
	out := make(map[string]string, len(prices))
	for code, price := range prices {
		out[code] = price.String()
	}
	return out
}

func decodePriceMap(field string, prices map[string]string) (map[string]decimal.Decimal, error) {
	if len(prices) == 0 {
		return nil, nil
	}
	out := make(map[string]decimal.Decimal, len(prices))
	for code, value := range prices {
		d, err := decodeDecimal(field+"."+code, value)
		if err != nil {
			return nil, err
		}
		out[code] = d
	}
	return out, nil
}

// decimalDecoder decodes many fields and keeps the first failure.
type decimalDecoder struct {
	err error
}

func (d *decimalDecoder) decode(field, value string) decimal.Decimal {
	v, err := decodeDecimal(field, value)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}
