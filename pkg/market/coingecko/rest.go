package coingecko

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client wraps the public CoinGecko REST API (fallback price source).
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// MaxRetries applies only to 429 responses.
	MaxRetries int
}

// Market is one row of the /coins/markets listing.
type Market struct {
	ID                       string  `json:"id"`
	Symbol                   string  `json:"symbol"`
	Name                     string  `json:"name"`
	Image                    string  `json:"image"`
	CurrentPrice             float64 `json:"current_price"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	TotalVolume              float64 `json:"total_volume"`
	MarketCap                float64 `json:"market_cap"`
}

// SimplePrice is the per-coin payload of /simple/price.
type SimplePrice struct {
	USD          float64 `json:"usd"`
	USD24hChange float64 `json:"usd_24h_change"`
}

// OHLC is one bar of /coins/{id}/ohlc.
type OHLC struct {
	Time  int64
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// NewClient builds a client against baseURL (empty for production).
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com"
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		MaxRetries: 2,
	}
}

// get performs the request, backing off and retrying when rate limited.
func (c *Client) get(u string, out any) error {
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		res, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		if res.StatusCode == http.StatusTooManyRequests && attempt < c.MaxRetries {
			res.Body.Close()
			time.Sleep(backoff)
			backoff *= 2
			continue
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return fmt.Errorf("coingecko status %d", res.StatusCode)
		}
		return json.NewDecoder(res.Body).Decode(out)
	}
}

// GetSimplePrices fetches USD price and 24h change for the given coin ids.
func (c *Client) GetSimplePrices(ids []string) (map[string]SimplePrice, error) {
	if len(ids) == 0 {
		return map[string]SimplePrice{}, nil
	}
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "usd")
	params.Set("include_24hr_change", "true")

	out := make(map[string]SimplePrice)
	u := fmt.Sprintf("%s/api/v3/simple/price?%s", c.BaseURL, params.Encode())
	if err := c.get(u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMarkets fetches the top coins by market cap.
func (c *Client) GetMarkets(perPage int) ([]Market, error) {
	if perPage <= 0 {
		perPage = 50
	}
	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("order", "market_cap_desc")
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", "1")
	params.Set("sparkline", "false")

	var out []Market
	u := fmt.Sprintf("%s/api/v3/coins/markets?%s", c.BaseURL, params.Encode())
	if err := c.get(u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOHLC fetches candles for one coin over the last days (1, 7, 14, 30, 90,
// 180 or 365 on the public tier).
func (c *Client) GetOHLC(id string, days int) ([]OHLC, error) {
	u := fmt.Sprintf("%s/api/v3/coins/%s/ohlc?vs_currency=usd&days=%d",
		c.BaseURL, url.PathEscape(id), days)

	var raw [][]float64
	if err := c.get(u, &raw); err != nil {
		return nil, err
	}
	out := make([]OHLC, 0, len(raw))
	for _, bar := range raw {
		if len(bar) < 5 {
			continue
		}
		out = append(out, OHLC{
			Time:  int64(bar[0]),
			Open:  bar[1],
			High:  bar[2],
			Low:   bar[3],
			Close: bar[4],
		})
	}
	return out, nil
}
