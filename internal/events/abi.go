package events

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// TokenManager V2 events. Every argument is unindexed.
const tokenManagerEventsJSON = `[
 {"type":"event","name":"TokenCreate","anonymous":false,"inputs":[
  {"name":"creator","type":"address","indexed":false},
  {"name":"token","type":"address","indexed":false},
  {"name":"requestId","type":"uint256","indexed":false},
  {"name":"name","type":"string","indexed":false},
  {"name":"symbol","type":"string","indexed":false},
  {"name":"totalSupply","type":"uint256","indexed":false},
  {"name":"launchTime","type":"uint256","indexed":false},
  {"name":"launchFee","type":"uint256","indexed":false}]},
 {"type":"event","name":"TokenPurchase","anonymous":false,"inputs":[
  {"name":"token","type":"address","indexed":false},
  {"name":"account","type":"address","indexed":false},
  {"name":"price","type":"uint256","indexed":false},
  {"name":"amount","type":"uint256","indexed":false},
  {"name":"cost","type":"uint256","indexed":false},
  {"name":"fee","type":"uint256","indexed":false},
  {"name":"offers","type":"uint256","indexed":false},
  {"name":"funds","type":"uint256","indexed":false}]},
 {"type":"event","name":"TokenSale","anonymous":false,"inputs":[
  {"name":"token","type":"address","indexed":false},
  {"name":"account","type":"address","indexed":false},
  {"name":"price","type":"uint256","indexed":false},
  {"name":"amount","type":"uint256","indexed":false},
  {"name":"cost","type":"uint256","indexed":false},
  {"name":"fee","type":"uint256","indexed":false},
  {"name":"offers","type":"uint256","indexed":false},
  {"name":"funds","type":"uint256","indexed":false}]},
 {"type":"event","name":"TokenPurchase2","anonymous":false,"inputs":[
  {"name":"origin","type":"uint256","indexed":false}]},
 {"type":"event","name":"TokenSale2","anonymous":false,"inputs":[
  {"name":"origin","type":"uint256","indexed":false}]},
 {"type":"event","name":"TradeStop","anonymous":false,"inputs":[
  {"name":"token","type":"address","indexed":false}]},
 {"type":"event","name":"LiquidityAdded","anonymous":false,"inputs":[
  {"name":"base","type":"address","indexed":false},
  {"name":"offers","type":"uint256","indexed":false},
  {"name":"quote","type":"address","indexed":false},
  {"name":"funds","type":"uint256","indexed":false}]}
]`

// TokenManager V1 trades: unindexed token/account with two amounts.
const tokenManagerV1EventsJSON = `[
 {"type":"event","name":"TokenPurchase","anonymous":false,"inputs":[
  {"name":"token","type":"address","indexed":false},
  {"name":"account","type":"address","indexed":false},
  {"name":"amount","type":"uint256","indexed":false},
  {"name":"cost","type":"uint256","indexed":false}]},
 {"type":"event","name":"TokenSale","anonymous":false,"inputs":[
  {"name":"token","type":"address","indexed":false},
  {"name":"account","type":"address","indexed":false},
  {"name":"amount","type":"uint256","indexed":false},
  {"name":"cost","type":"uint256","indexed":false}]}
]`

// Generic bonding-curve launchpad events with indexed addresses. The
// TokenPurchase here shares its topic hash with the V1 variant above and
// is told apart by topic count.
const legacyEventsJSON = `[
 {"type":"event","name":"TokenLaunched","anonymous":false,"inputs":[
  {"name":"token","type":"address","indexed":true},
  {"name":"creator","type":"address","indexed":true},
  {"name":"name","type":"string","indexed":false},
  {"name":"symbol","type":"string","indexed":false},
  {"name":"initialLiquidity","type":"uint256","indexed":false}]},
 {"type":"event","name":"BondingProgress","anonymous":false,"inputs":[
  {"name":"token","type":"address","indexed":true},
  {"name":"progress","type":"uint256","indexed":false},
  {"name":"currentMarketCap","type":"uint256","indexed":false}]},
 {"type":"event","name":"TokenGraduated","anonymous":false,"inputs":[
  {"name":"token","type":"address","indexed":true},
  {"name":"finalMarketCap","type":"uint256","indexed":false},
  {"name":"dexPair","type":"address","indexed":false}]},
 {"type":"event","name":"TokenPurchase","anonymous":false,"inputs":[
  {"name":"user","type":"address","indexed":true},
  {"name":"token","type":"address","indexed":true},
  {"name":"bnbAmount","type":"uint256","indexed":false},
  {"name":"tokenAmount","type":"uint256","indexed":false}]}
]`

var (
	TokenManagerEvents   = mustParseABI(tokenManagerEventsJSON)
	TokenManagerV1Events = mustParseABI(tokenManagerV1EventsJSON)
	LegacyEvents         = mustParseABI(legacyEventsJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("events: bad ABI definition: " + err.Error())
	}
	return parsed
}
