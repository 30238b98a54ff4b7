package gateway

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultSymbolMap maps CoinGecko coin ids to Binance spot symbols for the
// primary price tier. Tokens without an entry skip straight to CoinGecko.
var defaultSymbolMap = map[string]string{
	"bitcoin":               "BTCUSDT",
	"ethereum":              "ETHUSDT",
	"solana":                "SOLUSDT",
	"binancecoin":           "BNBUSDT",
	"cardano":               "ADAUSDT",
	"ripple":                "XRPUSDT",
	"dogecoin":              "DOGEUSDT",
	"polkadot":              "DOTUSDT",
	"avalanche":             "AVAXUSDT",
	"shiba-inu":             "SHIBUSDT",
	"matic":                 "MATICUSDT",
	"litecoin":              "LTCUSDT",
	"chainlink":             "LINKUSDT",
	"uniswap":               "UNIUSDT",
	"stellar":               "XLMUSDT",
	"cosmos":                "ATOMUSDT",
	"monero":                "XMRUSDT",
	"ethereum-classic":      "ETCUSDT",
	"internet-computer":     "ICPUSDT",
	"filecoin":              "FILUSDT",
	"hedera":                "HBARUSDT",
	"the-sandbox":           "SANDUSDT",
	"axie-infinity":         "AXSUSDT",
	"decentraland":          "MANAUSDT",
	"tezos":                 "XTZUSDT",
	"aave":                  "AAVEUSDT",
	"the-graph":             "GRTUSDT",
	"eos":                   "EOSUSDT",
	"flow":                  "FLOWUSDT",
	"maker":                 "MKRUSDT",
	"basic-attention-token": "BATUSDT",
	"compound":              "COMPUSDT",
	"curve":                 "CRVUSDT",
	"sushi":                 "SUSHIUSDT",
	"1inch":                 "1INCHUSDT",
	"yearn":                 "YFIUSDT",
	"enjin":                 "ENJUSDT",
	"zilliqa":               "ZILUSDT",
	"loopring":              "LRCUSDT",
	"ankr":                  "ANKRUSDT",
	"render":                "RENDERUSDT",
	"pepe":                  "PEPEUSDT",
	"bonk":                  "BONKUSDT",
	"jupiter":               "JUPUSDT",
	"raydium":               "RAYUSDT",
	"sui":                   "SUIUSDT",
	"tron":                  "TRXUSDT",
	"aptos":                 "APTUSDT",
	"near":                  "NEARUSDT",
	"optimism":              "OPUSDT",
	"arbitrum":              "ARBUSDT",
	"injective":             "INJUSDT",
	"sei":                   "SEIUSDT",
	"celestia":              "TIAUSDT",
	"starknet":              "STRKUSDT",
	"toncoin":               "TONUSDT",
	"immutable":             "IMXUSDT",
	"vechain":               "VETUSDT",
	"fantom":                "FTMUSDT",
	"theta":                 "THETAUSDT",
	"algorand":              "ALGOUSDT",
	"gala":                  "GALAUSDT",
}

// pinnedSymbols always sort to the top of the token listing.
var pinnedSymbols = map[string]bool{
	"sol": true, "jup": true, "bonk": true, "btc": true, "eth": true, "ray": true,
}

// stablecoinIDs are excluded from the listing; only volatile assets trade.
var stablecoinIDs = map[string]bool{
	"tether": true, "usd-coin": true, "binance-usd": true, "dai": true,
	"trueusd": true, "paxos-standard": true, "gemini-dollar": true, "frax": true,
	"usdd": true, "first-digital-usd": true, "paypal-usd": true,
	"binance-peg-bsc-usd": true, "stasis-eurs": true, "euro-coin": true,
	"tether-eurt": true, "bridged-usdc-polygon-pos-bridge": true,
	"multi-collateral-dai": true, "celo-dollar": true, "fei-usd": true,
	"neutrino": true, "terrausd": true, "magic-internet-money": true,
	"liquity-usd": true, "alchemix-usd": true, "nusd": true,
	"origin-dollar": true, "husd": true, "susd": true, "tribe-2": true,
	"flexusd": true, "vai": true, "mim": true, "usdx": true, "usdp": true,
	"staked-ether": true, "wrapped-bitcoin": true, "usds": true,
	"ethena-usde": true, "ethena-staked-usde": true, "usdb": true,
	"usual-usd": true, "ondo-us-dollar-yield": true,
	"mountain-protocol-usdm": true, "savings-dai": true, "tether-gold": true,
	"pax-gold": true, "binance-bridged-usdc-bnb-smart-chain": true,
	"binance-bridged-usdt-bnb-smart-chain": true,
}

// loadSymbolMap returns the default mapping, optionally merged with a YAML
// override file of the form `coin-id: SYMBOL`.
func loadSymbolMap(path string) (map[string]string, error) {
	merged := make(map[string]string, len(defaultSymbolMap))
	for k, v := range defaultSymbolMap {
		merged[k] = v
	}
	if path == "" {
		return merged, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read symbol map: %w", err)
	}
	override := make(map[string]string)
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, fmt.Errorf("parse symbol map: %w", err)
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged, nil
}
