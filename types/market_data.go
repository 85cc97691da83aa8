package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TradeMessage struct {
	Type       MessageType     `json:"T"`
	Symbol     string          `json:"S"`
	ID         int64           `json:"i"`
	Exchange   string          `json:"x"`
	Price      decimal.Decimal `json:"p"`
	Size       decimal.Decimal `json:"s"`
	Timestamp  time.Time       `json:"t"`
	Conditions []string        `json:"c"`
	Tape       string          `json:"z"`
}

func (m *TradeMessage) GetType() MessageType {
	return MarketTrade
}

func (m *TradeMessage) GetSymbol() string {
	return m.Symbol
}

func (m *TradeMessage) GetPrice() float64 {
	return m.Price.InexactFloat64()
}

func (m *TradeMessage) GetSize() float64 {
	return m.Size.InexactFloat64()
}

type QuoteMessage struct {
	Type        MessageType     `json:"T"`
	Symbol      string          `json:"S"`
	BidExchange string          `json:"bx"`
	BidPrice    decimal.Decimal `json:"bp"`
	BidSize     decimal.Decimal `json:"bs"`
	AskExchange string          `json:"ax"`
	AskPrice    decimal.Decimal `json:"ap"`
	AskSize     decimal.Decimal `json:"as"`
	Timestamp   time.Time       `json:"t"`
	Conditions  []string        `json:"c"`
	Tape        string          `json:"z"`
}

func (m *QuoteMessage) GetType() MessageType {
	return MarketQuote
}

func (m *QuoteMessage) GetSymbol() string {
	return m.Symbol
}

func (m *QuoteMessage) GetBidPrice() float64 {
	return m.BidPrice.InexactFloat64()
}

func (m *QuoteMessage) GetAskPrice() float64 {
	return m.AskPrice.InexactFloat64()
}

// GetSpread returns ask minus bid.
func (m *QuoteMessage) GetSpread() float64 {
	return m.AskPrice.Sub(m.BidPrice).InexactFloat64()
}

// BarMessage carries minute, daily and updated bars; Type tells them apart.
type BarMessage struct {
	Type       MessageType     `json:"T"`
	Symbol     string          `json:"S"`
	Open       decimal.Decimal `json:"o"`
	High       decimal.Decimal `json:"h"`
	Low        decimal.Decimal `json:"l"`
	Close      decimal.Decimal `json:"c"`
	Volume     decimal.Decimal `json:"v"`
	TradeCount int64           `json:"n"`
	VWAP       decimal.Decimal `json:"vw"`
	Timestamp  time.Time       `json:"t"`
}

func (m *BarMessage) GetType() MessageType {
	if m.Type == "" {
		return MarketBar
	}
	return m.Type
}

func (m *BarMessage) GetSymbol() string {
	return m.Symbol
}

func (m *BarMessage) GetOpenPrice() float64 {
	return m.Open.InexactFloat64()
}

func (m *BarMessage) GetClosePrice() float64 {
	return m.Close.InexactFloat64()
}

func (m *BarMessage) GetHighPrice() float64 {
	return m.High.InexactFloat64()
}

func (m *BarMessage) GetLowPrice() float64 {
	return m.Low.InexactFloat64()
}

func (m *BarMessage) GetVolume() float64 {
	return m.Volume.InexactFloat64()
}

type SuccessMessage struct {
	Type MessageType `json:"T"`
	Msg  string      `json:"msg"`
}

func (m *SuccessMessage) GetType() MessageType {
	return MarketSuccess
}

// ErrorMessage is a server-side rejection; it doubles as a Go error.
type ErrorMessage struct {
	Type MessageType `json:"T"`
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
}

func (m *ErrorMessage) GetType() MessageType {
	return MarketError
}

func (m *ErrorMessage) Error() string {
	return fmt.Sprintf("market data error %d: %s", m.Code, m.Msg)
}

type SubscriptionMessage struct {
	Type        MessageType `json:"T"`
	Trades      []string    `json:"trades"`
	Quotes      []string    `json:"quotes"`
	Bars        []string    `json:"bars"`
	DailyBars   []string    `json:"dailyBars"`
	UpdatedBars []string    `json:"updatedBars"`
}

func (m *SubscriptionMessage) GetType() MessageType {
	return MarketSubscription
}

// Symbols returns the acknowledged symbols for one subscribable type.
func (m *SubscriptionMessage) Symbols(t MessageType) []string {
	switch t {
	case MarketTrade:
		return m.Trades
	case MarketQuote:
		return m.Quotes
	case MarketBar:
		return m.Bars
	case MarketDailyBar:
		return m.DailyBars
	case MarketUpdatedBar:
		return m.UpdatedBars
	}
	return nil
}

type MarketDataAuthRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type MarketDataSubscribeRequest struct {
	Action      string   `json:"action"`
	Trades      []string `json:"trades,omitempty"`
	Quotes      []string `json:"quotes,omitempty"`
	Bars        []string `json:"bars,omitempty"`
	DailyBars   []string `json:"dailyBars,omitempty"`
	UpdatedBars []string `json:"updatedBars,omitempty"`
}

func NewMarketDataAuthRequest(key, secret string) *MarketDataAuthRequest {
	return &MarketDataAuthRequest{Action: "auth", Key: key, Secret: secret}
}

// Set assigns the symbol list for one subscribable type.
func (r *MarketDataSubscribeRequest) Set(t MessageType, symbols []string) {
	switch t {
	case MarketTrade:
		r.Trades = symbols
	case MarketQuote:
		r.Quotes = symbols
	case MarketBar:
		r.Bars = symbols
	case MarketDailyBar:
		r.DailyBars = symbols
	case MarketUpdatedBar:
		r.UpdatedBars = symbols
	}
}

// IsEmpty reports whether the request names no symbols at all.
func (r *MarketDataSubscribeRequest) IsEmpty() bool {
	return len(r.Trades) == 0 && len(r.Quotes) == 0 && len(r.Bars) == 0 &&
		len(r.DailyBars) == 0 && len(r.UpdatedBars) == 0
}
