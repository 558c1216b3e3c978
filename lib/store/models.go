package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet contains the fields of a tracked wallet saved to DB. The pair (UserID, Address) is unique.
type Wallet struct {
	UserID    string          `json:"user" db:"user_id"`
	Address   string          `json:"address" db:"wallet_address"`
	Previous  decimal.Decimal `json:"previous" db:"previous_balance"`
	Current   decimal.Decimal `json:"current" db:"current_balance"`
	UpdatedAt time.Time       `json:"updated" db:"updated_at"`
}

// Stats contains the totals reported to the admin.
type Stats struct {
	Wallets int `json:"wallets" db:"wallets"`
	Users   int `json:"users" db:"users"`
}
