package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction type values recorded by the trading front-end.
const (
	TxBuy      = "buy"
	TxSell     = "sell"
	TxTransfer = "transfer"
	TxMining   = "mining"
)

// Order lifecycle states.
const (
	OrderPending   = "pending"
	OrderFilled    = "filled"
	OrderCancelled = "cancelled"
)

// Transaction is a settled transfer created by the trading front-end.
// The engine only ever reads these; they are immutable once written.
type Transaction struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	FromAddress string          `gorm:"index" json:"from_address"`
	ToAddress   string          `json:"to_address"`
	Amount      decimal.Decimal `gorm:"type:numeric" json:"amount"`
	Fee         decimal.Decimal `gorm:"type:numeric" json:"fee"`
	Price       decimal.Decimal `gorm:"type:numeric" json:"price"`
	Type        string          `gorm:"column:transaction_type;index" json:"type"`
	Timestamp   time.Time       `gorm:"index" json:"timestamp"`
}

// Order is a resting limit order. Read-only from the engine's perspective;
// only pending orders contribute to market depth.
type Order struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	WalletAddress string          `gorm:"index" json:"wallet_address"`
	Side          string          `gorm:"index" json:"side"` // "buy" or "sell"
	Amount        decimal.Decimal `gorm:"type:numeric" json:"amount"`
	LimitPrice    decimal.Decimal `gorm:"type:numeric" json:"limit_price"`
	Status        string          `gorm:"index" json:"status"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Wallet holds an account's asset balance. Used only for the whale
// concentration signal.
type Wallet struct {
	ID      uint            `gorm:"primaryKey" json:"id"`
	Address string          `gorm:"uniqueIndex" json:"address"`
	Balance decimal.Decimal `gorm:"type:numeric" json:"balance"`
}

// PricePoint is one sample of the append-only price series. The engine
// appends exactly one per pricing cycle.
type PricePoint struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
}
