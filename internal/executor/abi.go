package executor

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const routerJSON = `[
 {"type":"function","name":"buyMemeToken","stateMutability":"payable","outputs":[],"inputs":[
  {"name":"tokenManager","type":"address"},
  {"name":"token","type":"address"},
  {"name":"recipient","type":"address"},
  {"name":"funds","type":"uint256"},
  {"name":"minAmount","type":"uint256"}]}
]`

const tokenManagerJSON = `[
 {"type":"function","name":"buyTokenAMAP","stateMutability":"payable","outputs":[],"inputs":[
  {"name":"token","type":"address"},
  {"name":"funds","type":"uint256"},
  {"name":"minAmount","type":"uint256"}]},
 {"type":"function","name":"sellToken","stateMutability":"nonpayable","outputs":[],"inputs":[
  {"name":"token","type":"address"},
  {"name":"amount","type":"uint256"}]},
 {"type":"function","name":"saleToken","stateMutability":"nonpayable","outputs":[],"inputs":[
  {"name":"token","type":"address"},
  {"name":"amount","type":"uint256"}]}
]`

const helperJSON = `[
 {"type":"function","name":"getTokenInfo","stateMutability":"view","inputs":[
  {"name":"token","type":"address"}],"outputs":[
  {"name":"version","type":"uint256"},
  {"name":"tokenManager","type":"address"},
  {"name":"quote","type":"address"},
  {"name":"lastPrice","type":"uint256"},
  {"name":"tradingFeeRate","type":"uint256"},
  {"name":"minTradingFee","type":"uint256"},
  {"name":"launchTime","type":"uint256"},
  {"name":"offers","type":"uint256"},
  {"name":"maxOffers","type":"uint256"},
  {"name":"funds","type":"uint256"},
  {"name":"maxFunds","type":"uint256"},
  {"name":"liquidityAdded","type":"bool"}]}
]`

const erc20JSON = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
  {"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[
  {"name":"owner","type":"address"},
  {"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
  {"name":"spender","type":"address"},
  {"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	RouterABI       = mustParseABI(routerJSON)
	TokenManagerABI = mustParseABI(tokenManagerJSON)
	HelperABI       = mustParseABI(helperJSON)
	ERC20ABI        = mustParseABI(erc20JSON)
)

// TokenInfo mirrors the helper's getTokenInfo tuple.
type TokenInfo struct {
	Version        *big.Int
	TokenManager   common.Address
	Quote          common.Address
	LastPrice      *big.Int
	TradingFeeRate *big.Int
	MinTradingFee  *big.Int
	LaunchTime     *big.Int
	Offers         *big.Int
	MaxOffers      *big.Int
	Funds          *big.Int
	MaxFunds       *big.Int
	LiquidityAdded bool
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("executor: bad ABI definition: " + err.Error())
	}
	return parsed
}
