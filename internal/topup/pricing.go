// internal/topup/pricing.go
package topup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zkwallet/zkwallet/internal/logging"
)

// RateSource quotes the MATIC price in IDR.
type RateSource interface {
	MaticIDR(ctx context.Context) (decimal.Decimal, error)
}

// FallbackRate is used when the price API is unreachable. Deliberately
// conservative; top-ups priced off the fallback favor the service.
var FallbackRate = decimal.NewFromInt(10000)

const coinGeckoURL = "https://api.coingecko.com/api/v3/simple/price?ids=matic-network&vs_currencies=idr"

// CoinGeckoSource fetches the spot rate from the CoinGecko public API and
// falls back to FallbackRate on any failure.
type CoinGeckoSource struct {
	http *http.Client
	url  string
}

func NewCoinGeckoSource() *CoinGeckoSource {
	return &CoinGeckoSource{
		http: &http.Client{Timeout: 10 * time.Second},
		url:  coinGeckoURL,
	}
}

func (s *CoinGeckoSource) MaticIDR(ctx context.Context) (decimal.Decimal, error) {
	rate, err := s.fetch(ctx)
	if err != nil {
		logging.Warn("price lookup failed, using fallback rate",
			zap.String("fallback", FallbackRate.String()),
			zap.Error(err))
		return FallbackRate, nil
	}
	return rate, nil
}

func (s *CoinGeckoSource) fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price api returned status %d", resp.StatusCode)
	}

	var payload map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, err
	}
	raw, ok := payload["matic-network"]["idr"]
	if !ok {
		return decimal.Zero, fmt.Errorf("price api response missing idr quote")
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil || rate.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("price api returned unusable rate %q", raw)
	}
	return rate, nil
}
