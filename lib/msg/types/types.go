// Defines the types sent through message brokers.
package types

// BalanceEvent is published when a tracked wallet balance changes. Amounts are decimal strings.
type BalanceEvent struct {
	ID       string `json:"id"`
	UserID   string `json:"user"`
	Address  string `json:"address"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
	Delta    string `json:"delta"`
	Reward   bool   `json:"reward"`
	TS       int64  `json:"ts"` // unix seconds
}
