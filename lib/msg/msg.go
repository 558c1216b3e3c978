// Package msg defines the interface for different message brokers.
//
// The explorer publishes a BalanceEvent for every balance change it notifies, so other services can follow the
// tracked wallets without polling the store.
package msg

import (
	"github.com/tarancss/stakewatch/lib/msg/types"
)

// Exchange where balance events are published.
const Exchange = "be"

// Key returns the routing key of events for address.
func Key(address string) string {
	return "balance." + address
}

type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// methods for the explorer
	SendEvent(e types.BalanceEvent) error
}
