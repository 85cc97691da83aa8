package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuthorizationData struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

type AuthorizationMessage struct {
	Stream MessageType       `json:"stream"`
	Data   AuthorizationData `json:"data"`
}

func (m *AuthorizationMessage) GetType() MessageType {
	return StreamAuthorization
}

type ListeningData struct {
	Streams []MessageType `json:"streams"`
	Error   string        `json:"error,omitempty"`
}

type ListeningMessage struct {
	Stream MessageType   `json:"stream"`
	Data   ListeningData `json:"data"`
}

func (m *ListeningMessage) GetType() MessageType {
	return StreamListening
}

type Order struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	Symbol         string              `json:"symbol"`
	AssetClass     string              `json:"asset_class"`
	Side           string              `json:"side"`
	Type           string              `json:"type"`
	TimeInForce    string              `json:"time_in_force"`
	Status         string              `json:"status"`
	ExtendedHours  bool                `json:"extended_hours"`
	Qty            decimal.NullDecimal `json:"qty"`
	Notional       decimal.NullDecimal `json:"notional"`
	FilledQty      decimal.NullDecimal `json:"filled_qty"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	LimitPrice     decimal.NullDecimal `json:"limit_price"`
	StopPrice      decimal.NullDecimal `json:"stop_price"`
	CreatedAt      *time.Time          `json:"created_at"`
	UpdatedAt      *time.Time          `json:"updated_at"`
	SubmittedAt    *time.Time          `json:"submitted_at"`
	FilledAt       *time.Time          `json:"filled_at"`
	CanceledAt     *time.Time          `json:"canceled_at"`
}

type TradeUpdate struct {
	Event       string              `json:"event"`
	ExecutionID string              `json:"execution_id,omitempty"`
	Order       Order               `json:"order"`
	Timestamp   *time.Time          `json:"timestamp,omitempty"`
	Price       decimal.NullDecimal `json:"price"`
	Qty         decimal.NullDecimal `json:"qty"`
	PositionQty decimal.NullDecimal `json:"position_qty"`
}

type TradeUpdateMessage struct {
	Stream MessageType `json:"stream"`
	Data   TradeUpdate `json:"data"`
}

func (m *TradeUpdateMessage) GetType() MessageType {
	return StreamTradeUpdates
}

func (m *TradeUpdateMessage) GetSymbol() string {
	return m.Data.Order.Symbol
}

// AccountUpdate is only published by legacy accounts.
type AccountUpdate struct {
	ID               string              `json:"id"`
	Currency         string              `json:"currency"`
	Cash             decimal.NullDecimal `json:"cash"`
	CashWithdrawable decimal.NullDecimal `json:"cash_withdrawable"`
	CreatedAt        *time.Time          `json:"created_at"`
	UpdatedAt        *time.Time          `json:"updated_at"`
	DeletedAt        *time.Time          `json:"deleted_at"`
}

type AccountUpdateMessage struct {
	Stream MessageType   `json:"stream"`
	Data   AccountUpdate `json:"data"`
}

func (m *AccountUpdateMessage) GetType() MessageType {
	return StreamAccountUpdates
}

type AuthData struct {
	KeyID      string `json:"key_id,omitempty"`
	SecretKey  string `json:"secret_key,omitempty"`
	OAuthToken string `json:"oauth_token,omitempty"`
}

type AuthRequest struct {
	Action string   `json:"action"`
	Data   AuthData `json:"data"`
}

type ListenData struct {
	Streams []MessageType `json:"streams"`
}

type ListenRequest struct {
	Action string     `json:"action"`
	Data   ListenData `json:"data"`
}

func NewAuthRequest(keyID, secretKey, oauthToken string) *AuthRequest {
	return &AuthRequest{
		Action: "authenticate",
		Data: AuthData{
			KeyID:      keyID,
			SecretKey:  secretKey,
			OAuthToken: oauthToken,
		},
	}
}

func NewListenRequest(streams []MessageType) *ListenRequest {
	if streams == nil {
		streams = []MessageType{}
	}
	return &ListenRequest{
		Action: "listen",
		Data:   ListenData{Streams: streams},
	}
}
