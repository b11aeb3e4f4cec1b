// Package ratetable loads the static currency, tax, and shipping-zone tables used by pricing.
package ratetable

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/storefront-commerce/api/internal/domain"
)

// DefaultZone is the zone used for destinations no other zone lists.
const DefaultZone = "default"

//go:embed default_rates.yaml
var defaultRates []byte

// Tables is the parsed form of a rate file.
type Tables struct {
	BaseCurrency  string
	CurrencyRates map[string]decimal.Decimal
	TaxRates      domain.TaxRateTable
	Zones         []Zone
}

// Zone groups destination countries that share shipping options.
type Zone struct {
	Name      string
	Countries []string
	Options   []domain.ShippingOption
}

type fileFormat struct {
	BaseCurrency  string            `yaml:"baseCurrency"`
	Currencies    map[string]string `yaml:"currencies"`
	TaxRates      map[string]string `yaml:"taxRates"`
	ShippingZones []zoneFormat      `yaml:"shippingZones"`
}

type zoneFormat struct {
	Name      string         `yaml:"name"`
	Countries []string       `yaml:"countries"`
	Options   []optionFormat `yaml:"options"`
}

type optionFormat struct {
	ID                string `yaml:"id"`
	Carrier           string `yaml:"carrier"`
	Name              string `yaml:"name"`
	Cost              string `yaml:"cost"`
	Currency          string `yaml:"currency"`
	EstimatedDelivery string `yaml:"estimatedDelivery"`
}

// Default returns the tables bundled with the binary.
func Default() (Tables, error) {
	return Parse(defaultRates)
}

// Load reads a rate file from disk. An empty path returns the bundled tables.
func Load(path string) (Tables, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("ratetable: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML rate data.
func Parse(data []byte) (Tables, error) {
	var raw fileFormat
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Tables{}, fmt.Errorf("ratetable: parsing: %w", err)
	}

	tables := Tables{
		BaseCurrency:  strings.ToUpper(strings.TrimSpace(raw.BaseCurrency)),
		CurrencyRates: make(map[string]decimal.Decimal, len(raw.Currencies)),
		TaxRates:      make(domain.TaxRateTable, len(raw.TaxRates)),
	}
	if tables.BaseCurrency == "" {
		tables.BaseCurrency = domain.DefaultBaseCurrency
	}

	for code, value := range raw.Currencies {
		rate, err := parsePositive(value)
		if err != nil {
			return Tables{}, fmt.Errorf("ratetable: currency %s: %w", code, err)
		}
		tables.CurrencyRates[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	if _, ok := tables.CurrencyRates[tables.BaseCurrency]; !ok {
		tables.CurrencyRates[tables.BaseCurrency] = decimal.NewFromInt(1)
	}

	for country, value := range raw.TaxRates {
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return Tables{}, fmt.Errorf("ratetable: tax rate %s: %w", country, err)
		}
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return Tables{}, fmt.Errorf("ratetable: tax rate %s must be between 0 and 1", country)
		}
		tables.TaxRates[strings.ToUpper(strings.TrimSpace(country))] = rate
	}

	seenZones := make(map[string]struct{}, len(raw.ShippingZones))
	for _, z := range raw.ShippingZones {
		name := strings.ToLower(strings.TrimSpace(z.Name))
		if name == "" {
			return Tables{}, errors.New("ratetable: shipping zone name is required")
		}
		if _, dup := seenZones[name]; dup {
			return Tables{}, fmt.Errorf("ratetable: duplicate shipping zone %q", name)
		}
		seenZones[name] = struct{}{}

		zone := Zone{Name: name}
		for _, country := range z.Countries {
			if c := strings.ToUpper(strings.TrimSpace(country)); c != "" {
				zone.Countries = append(zone.Countries, c)
			}
		}
		for _, opt := range z.Options {
			cost, err := decimal.NewFromString(strings.TrimSpace(opt.Cost))
			if err != nil {
				return Tables{}, fmt.Errorf("ratetable: zone %s option %s cost: %w", name, opt.ID, err)
			}
			if cost.IsNegative() {
				return Tables{}, fmt.Errorf("ratetable: zone %s option %s cost must not be negative", name, opt.ID)
			}
			currency := strings.ToUpper(strings.TrimSpace(opt.Currency))
			if currency == "" {
				currency = tables.BaseCurrency
			}
			zone.Options = append(zone.Options, domain.ShippingOption{
				ID:                strings.TrimSpace(opt.ID),
				Carrier:           strings.TrimSpace(opt.Carrier),
				Name:              strings.TrimSpace(opt.Name),
				Cost:              cost,
				Currency:          currency,
				EstimatedDelivery: strings.TrimSpace(opt.EstimatedDelivery),
			})
		}
		tables.Zones = append(tables.Zones, zone)
	}

	return tables, nil
}

// Currencies lists the configured currency codes in sorted order.
func (t Tables) Currencies() []string {
	codes := make([]string, 0, len(t.CurrencyRates))
	for code := range t.CurrencyRates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func parsePositive(value string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() {
		return decimal.Zero, errors.New("rate must be positive")
	}
	return rate, nil
}
