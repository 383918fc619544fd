package zeroex

// SwapParams are the query parameters shared by price and quote lookups.
// Exactly one of SellAmount or BuyAmount must be set, as base-10 integer
// strings in the sell/buy token's smallest unit.
type SwapParams struct {
	ChainID     int64
	SellToken   string
	BuyToken    string
	SellAmount  string
	BuyAmount   string
	Taker       string
	SlippageBps int
}

// Fees is the fee breakdown reported by the aggregator.
type Fees struct {
	IntegratorFee *Fee `json:"integratorFee"`
	ZeroExFee     *Fee `json:"zeroExFee"`
	GasFee        *Fee `json:"gasFee"`
}

// Fee is a single fee entry.
type Fee struct {
	Amount string `json:"amount"`
	Token  string `json:"token"`
	Type   string `json:"type"`
}

// Issues reports problems the aggregator found while pricing, such as
// missing allowances or insufficient balance.
type Issues struct {
	Allowance       *AllowanceIssue `json:"allowance"`
	Balance         *BalanceIssue   `json:"balance"`
	SimulationError bool            `json:"simulationIncomplete"`
}

// AllowanceIssue describes a missing or insufficient Permit2 allowance.
type AllowanceIssue struct {
	Actual  string `json:"actual"`
	Spender string `json:"spender"`
}

// BalanceIssue describes an insufficient taker balance.
type BalanceIssue struct {
	Token    string `json:"token"`
	Actual   string `json:"actual"`
	Expected string `json:"expected"`
}

// PriceResponse is the indicative price returned by /swap/permit2/price.
type PriceResponse struct {
	LiquidityAvailable bool    `json:"liquidityAvailable"`
	SellToken          string  `json:"sellToken"`
	BuyToken           string  `json:"buyToken"`
	SellAmount         string  `json:"sellAmount"`
	BuyAmount          string  `json:"buyAmount"`
	MinBuyAmount       string  `json:"minBuyAmount"`
	Gas                string  `json:"gas"`
	GasPrice           string  `json:"gasPrice"`
	TotalNetworkFee    string  `json:"totalNetworkFee"`
	Fees               *Fees   `json:"fees"`
	Issues             *Issues `json:"issues"`
}

// Transaction is the unsigned calldata bundle in a firm quote.
type Transaction struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
	Value    string `json:"value"`
}

// QuoteResponse is the firm quote returned by /swap/permit2/quote. It
// embeds the price fields and adds the transaction to broadcast.
type QuoteResponse struct {
	PriceResponse
	Transaction *Transaction `json:"transaction"`
	Permit2     any          `json:"permit2"`
}
