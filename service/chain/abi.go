package chain

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// MarketABI describes the subset of the marketplace contract this service calls.
const MarketABI = `[
	{"inputs":[],"name":"getListingPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"string","name":"tokenURI","type":"string"},{"internalType":"uint256","name":"price","type":"uint256"}],"name":"createToken","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"payable","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"},{"internalType":"uint256","name":"price","type":"uint256"}],"name":"resellToken","outputs":[],"stateMutability":"payable","type":"function"},
	{"inputs":[],"name":"fetchMarketItems","outputs":[{"components":[
		{"internalType":"uint256","name":"tokenId","type":"uint256"},
		{"internalType":"address payable","name":"seller","type":"address"},
		{"internalType":"address payable","name":"owner","type":"address"},
		{"internalType":"uint256","name":"price","type":"uint256"},
		{"internalType":"bool","name":"sold","type":"bool"}
	],"internalType":"struct NFTMarketplace.MarketItem[]","name":"","type":"tuple[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"tokenURI","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"address","name":"from","type":"address"},
		{"indexed":true,"internalType":"address","name":"to","type":"address"},
		{"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"}
	],"name":"Transfer","type":"event"}
]`

var (
	parsedABI     abi.ABI
	parsedABIErr  error
	parsedABIOnce sync.Once
)

// ParsedABI returns the parsed marketplace ABI.
func ParsedABI() (abi.ABI, error) {
	parsedABIOnce.Do(func() {
		parsedABI, parsedABIErr = abi.JSON(strings.NewReader(MarketABI))
	})
	return parsedABI, parsedABIErr
}
