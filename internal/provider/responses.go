package provider

import (
	"math"
	"time"

	"optionflow-scanner/internal/errs"
)

// Wire DTOs matching the vendor's JSON shapes.

type stockSnapshotResponse struct {
	Ticker struct {
		Day struct {
			Close float64 `json:"c"`
			VWAP  float64 `json:"vw"`
			Open  float64 `json:"o"`
			High  float64 `json:"h"`
			Low   float64 `json:"l"`
		} `json:"day"`
		LastTrade struct {
			Price float64 `json:"price"`
		} `json:"lastTrade"`
		LastQuote struct {
			Midpoint float64 `json:"midpoint"`
			Bid      float64 `json:"bid"`
			Ask      float64 `json:"ask"`
		} `json:"lastQuote"`
		PrevDay struct {
			Close float64 `json:"c"`
			VWAP  float64 `json:"vw"`
		} `json:"prevDay"`
	} `json:"ticker"`
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

// resolvePrice implements the fallback chain: day.c, day.vw,
// lastTrade.price, lastQuote.midpoint/bid/ask, prevDay.c/vw.
func (s stockSnapshotResponse) resolvePrice() (float64, error) {
	t := s.Ticker
	candidates := []float64{
		t.Day.Close, t.Day.VWAP,
		t.LastTrade.Price,
		t.LastQuote.Midpoint, t.LastQuote.Bid, t.LastQuote.Ask,
		t.PrevDay.Close, t.PrevDay.VWAP,
	}
	for _, c := range candidates {
		if validPrice(c) {
			return c, nil
		}
	}
	return 0, errs.NewDataValidation("stock_price", "no usable positive price in payload")
}

type aggregatesResponse struct {
	Results []struct {
		T  int64   `json:"t"` // epoch millis
		O  float64 `json:"o"`
		H  float64 `json:"h"`
		L  float64 `json:"l"`
		C  float64 `json:"c"`
		V  float64 `json:"v"`
		VW float64 `json:"vw"`
	} `json:"results"`
}

type optionChainResponse struct {
	Results []optionChainResult `json:"results"`
}

type optionChainResult struct {
	Details struct {
		Ticker         string  `json:"ticker"`
		ContractType   string  `json:"contract_type"`
		StrikePrice    float64 `json:"strike_price"`
		ExpirationDate string  `json:"expiration_date"`
	} `json:"details"`
	Day struct {
		Volume float64 `json:"volume"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
	} `json:"day"`
	LastTrade struct {
		Price float64 `json:"price"`
	} `json:"last_trade"`
	LastQuote struct {
		Midpoint float64 `json:"midpoint"`
		Bid      float64 `json:"bid"`
		Ask      float64 `json:"ask"`
		BidSize  float64 `json:"bid_size"`
		AskSize  float64 `json:"ask_size"`
	} `json:"last_quote"`
	Greeks struct {
		Delta float64 `json:"delta"`
		Gamma float64 `json:"gamma"`
		Theta float64 `json:"theta"`
		Vega  float64 `json:"vega"`
	} `json:"greeks"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	OpenInterest      float64 `json:"open_interest"`
	UnderlyingAsset   struct {
		Price float64 `json:"price"`
	} `json:"underlying_asset"`
}

// toSnapshot validates and converts one chain entry. Returns ok=false
// for malformed contracts (the detector skips these and continues),
// never panics on a partial payload.
func (r optionChainResult) toSnapshot(underlying string) (ContractSnapshot, bool) {
	if r.Details.Ticker == "" || r.Details.StrikePrice <= 0 {
		return ContractSnapshot{}, false
	}
	exp, err := time.Parse("2006-01-02", r.Details.ExpirationDate)
	if err != nil {
		return ContractSnapshot{}, false
	}

	kind := Put
	switch r.Details.ContractType {
	case "call":
		kind = Call
	case "put":
		kind = Put
	default:
		// Feed omitted or mangled contract_type: fall back to the
		// ticker's own C/P marker.
		if k, ok := KindFromTicker(r.Details.Ticker); ok {
			kind = k
		}
	}

	if r.LastQuote.Bid > 0 && r.LastQuote.Ask > 0 && r.LastQuote.Bid > r.LastQuote.Ask {
		return ContractSnapshot{}, false
	}

	return ContractSnapshot{
		Ticker:          r.Details.Ticker,
		Underlying:      underlying,
		Kind:            kind,
		Strike:          r.Details.StrikePrice,
		ExpirationDate:  exp,
		DayVolume:       r.Day.Volume,
		OpenInterest:    r.OpenInterest,
		LastPrice:       r.LastTrade.Price,
		Bid:             r.LastQuote.Bid,
		Ask:             r.LastQuote.Ask,
		BidSize:         r.LastQuote.BidSize,
		AskSize:         r.LastQuote.AskSize,
		IV:              r.ImpliedVolatility,
		Delta:           r.Greeks.Delta,
		Gamma:           r.Greeks.Gamma,
		Theta:           r.Greeks.Theta,
		Vega:            r.Greeks.Vega,
		UnderlyingPrice: r.UnderlyingAsset.Price,
		AsOf:            time.Now().UTC(),
		DayOpen:         r.Day.Open,
		DayHigh:         r.Day.High,
		DayLow:          r.Day.Low,
		DayClose:        r.Day.Close,
		LastTradePrice:  r.LastTrade.Price,
		QuoteMidpoint:   r.LastQuote.Midpoint,
	}, true
}

type tradesResponse struct {
	Results []struct {
		Price                 float64 `json:"price"`
		Size                  float64 `json:"size"`
		ParticipantTimestamp  int64   `json:"participant_timestamp"`
	} `json:"results"`
}
