package binance

// Ticker24h is the subset of the 24hr ticker statistics the gateway needs.
type Ticker24h struct {
	Symbol             string  `json:"symbol"`
	LastPrice          float64 `json:"-"`
	PriceChangePercent float64 `json:"-"`
	QuoteVolume        float64 `json:"-"`
}

// Kline is one OHLCV bar.
type Kline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}
