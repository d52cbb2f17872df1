package generations

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mediaforge-ai/mediaforge-backend/pkg/config"
	"github.com/mediaforge-ai/mediaforge-backend/pkg/enums"
)

// PriceTable holds the settled price per generation kind.
type PriceTable map[enums.GenerationKind]decimal.Decimal

// NewPriceTable parses the configured price strings once at startup.
func NewPriceTable(cfg config.GenerationConfig) (PriceTable, error) {
	raw := map[enums.GenerationKind]string{
		enums.GenerationKindChat:    cfg.ChatPrice,
		enums.GenerationKindImage:   cfg.ImagePrice,
		enums.GenerationKindModel3D: cfg.Model3DPrice,
		enums.GenerationKindVideo:   cfg.VideoPrice,
	}

	table := make(PriceTable, len(raw))
	for kind, value := range raw {
		price, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("parsing %s price %q: %w", kind, value, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("%s price %q is negative", kind, value)
		}
		table[kind] = price
	}
	return table, nil
}

// For returns the price for the kind, zero when the kind is unknown.
func (t PriceTable) For(kind enums.GenerationKind) decimal.Decimal {
	return t[kind]
}
