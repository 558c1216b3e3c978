package explorer

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Message returns the notification sent to user when the balance of addr changed by delta. A change equal to reward
// is celebrated as a staking reward.
func Message(user, addr string, delta, reward decimal.Decimal) string {
	if delta.Equal(reward) {
		return fmt.Sprintf("🎉 **Congratulations <@%s>!** Wallet %s just earned a staking reward of **%s**! Keep it up! 🚀",
			user, addr, delta.String())
	}

	return fmt.Sprintf("📢 **Wallet Balance Change** for Wallet `%s`!\nBalance changed by: %s", addr, delta.String())
}
