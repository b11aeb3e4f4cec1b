package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/storefront-commerce/api/internal/domain"
	"github.com/storefront-commerce/api/internal/platform/ratetable"
)

var (
	// ErrShippingInvalidInput indicates a missing destination or currency.
	ErrShippingInvalidInput = errors.New("shipping: invalid input")
	// ErrShippingOptionNotFound indicates the requested option does not serve the destination.
	ErrShippingOptionNotFound = errors.New("shipping: option not found")
	// ErrShippingUnavailable indicates no zone, not even the default, can serve the destination.
	ErrShippingUnavailable = errors.New("shipping: no options for destination")
)

// ZoneShippingQuoterDeps bundles the inputs of a ZoneShippingQuoter.
type ZoneShippingQuoterDeps struct {
	Zones     []ratetable.Zone
	Converter *CurrencyConverter
	Logger    func(context.Context, string, map[string]any)
}

type zoneShippingQuoter struct {
	byCountry   map[string]ratetable.Zone
	defaultZone *ratetable.Zone
	converter   *CurrencyConverter
	logger      func(context.Context, string, map[string]any)
}

// NewZoneShippingQuoter indexes zones by destination country.
func NewZoneShippingQuoter(deps ZoneShippingQuoterDeps) (ShippingQuoter, error) {
	if deps.Converter == nil {
		return nil, errors.New("shipping quoter: currency converter is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	q := &zoneShippingQuoter{
		byCountry: make(map[string]ratetable.Zone),
		converter: deps.Converter,
		logger:    logger,
	}
	for _, zone := range deps.Zones {
		if zone.Name == ratetable.DefaultZone {
			z := zone
			q.defaultZone = &z
			continue
		}
		for _, country := range zone.Countries {
			key := strings.ToUpper(strings.TrimSpace(country))
			if _, exists := q.byCountry[key]; exists {
				return nil, fmt.Errorf("shipping quoter: country %s is listed in more than one zone", key)
			}
			q.byCountry[key] = zone
		}
	}
	return q, nil
}

// Options returns every option for the destination priced in the requested currency.
func (q *zoneShippingQuoter) Options(ctx context.Context, country, currency string) ([]ShippingOption, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	currency = normalizeCurrency(currency)
	if country == "" || currency == "" {
		return nil, ErrShippingInvalidInput
	}

	zone, ok := q.byCountry[country]
	if !ok {
		if q.defaultZone == nil {
			return nil, fmt.Errorf("%w: %s", ErrShippingUnavailable, country)
		}
		zone = *q.defaultZone
		q.logger(ctx, "shipping.zone.default", map[string]any{"country": country})
	}

	options := make([]ShippingOption, 0, len(zone.Options))
	for _, opt := range zone.Options {
		priced := opt
		priced.Cost = q.converter.ConvertBetween(ctx, opt.Cost, opt.Currency, currency)
		priced.Currency = currency
		options = append(options, priced)
	}
	return options, nil
}

// Option resolves a single option by id for the destination.
func (q *zoneShippingQuoter) Option(ctx context.Context, country, currency, optionID string) (ShippingOption, error) {
	optionID = strings.TrimSpace(optionID)
	if optionID == "" {
		return ShippingOption{}, ErrShippingInvalidInput
	}
	options, err := q.Options(ctx, country, currency)
	if err != nil {
		return ShippingOption{}, err
	}
	for _, opt := range options {
		if opt.ID == optionID {
			return opt, nil
		}
	}
	return domain.ShippingOption{}, fmt.Errorf("%w: %s", ErrShippingOptionNotFound, optionID)
}
