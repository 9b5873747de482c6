package provider

import (
	"fmt"

	"github.com/vibast-solutions/ms-go-lavago-payments/config"
)

// NewFromConfig builds the adapter for the configured gateway. Exactly one
// gateway is active per deployment.
func NewFromConfig(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Name {
	case config.ProviderStripe:
		return NewStripeProvider(cfg.Stripe, cfg.HTTPTimeout), nil
	case config.ProviderPagBank:
		return NewPagBankProvider(cfg.PagBank, cfg.HTTPTimeout), nil
	case config.ProviderMercadoPago:
		return NewMercadoPagoProvider(cfg.MercadoPago, cfg.HTTPTimeout), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNotSupported, cfg.Name)
	}
}
