package gateway

import (
	"fmt"
	"strings"
)

// currencyCodes maps symbol -> network -> gateway ticker.
var currencyCodes = map[string]map[string]string{
	"usdt": {
		"trc20":   "usdttrc20",
		"erc20":   "usdterc20",
		"bep20":   "usdtbsc",
		"polygon": "usdtmatic",
		"sol":     "usdtsol",
	},
	"usdc": {
		"erc20":   "usdc",
		"bep20":   "usdcbsc",
		"polygon": "usdcmatic",
		"sol":     "usdcsol",
	},
	"btc": {"btc": "btc"},
	"eth": {"erc20": "eth", "base": "ethbase"},
	"bnb": {"bep20": "bnbbsc"},
	"trx": {"trc20": "trx"},
	"sol": {"sol": "sol"},
	"ltc": {"ltc": "ltc"},
}

// CurrencyCode resolves the gateway ticker for a symbol on a network.
func CurrencyCode(symbol, network string) (string, error) {
	symbol = strings.ToLower(strings.TrimSpace(symbol))
	network = strings.ToLower(strings.TrimSpace(network))
	networks, ok := currencyCodes[symbol]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedNetwork, symbol)
	}
	code, ok := networks[network]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrUnsupportedNetwork, symbol, network)
	}
	return code, nil
}

// NetworkRequiresTag reports whether destinations on network commonly need a memo.
func NetworkRequiresTag(network string) bool {
	switch strings.ToLower(network) {
	case "xrp", "xlm", "bnb", "ton":
		return true
	}
	return false
}
