package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tarancss/stakewatch/lib/retry"
	"github.com/tarancss/stakewatch/lib/store"
)

// Help is the reply to !help.
const Help = "🆘 **Help Menu** 🆘\n" +
	"Here are the commands you can use:\n" +
	"`!addwallet <wallet_address>` - Add a new wallet to your watchlist (max %d wallets).\n" +
	"`!deletewallet <wallet_address>` - Remove a wallet from your watchlist.\n" +
	"`!listwallets` - List all your added wallets and their balances.\n" +
	"`!summary` - Get a detailed summary of your wallet(s).\n" +
	"If you encounter an error, please check the commands and try again!"

const (
	unavailable = "Unavailable"
	unknownRank = "Unknown"
)

func (b *Bot) addWallet(ctx context.Context, m Message, args []string) (string, error) {
	if len(args) != 1 {
		return "", errUsage("Usage: `!addwallet <wallet_address>`")
	}

	addr := args[0]

	n, err := b.db.CountWallets(ctx, m.UserID)
	if err != nil {
		return "", err
	}

	if n >= b.maxWallets {
		// re-adding a tracked wallet refreshes it and does not count against the cap
		ws, err := b.db.GetWallets(ctx, m.UserID)
		if err != nil {
			return "", err
		}

		if !tracked(ws, addr) {
			return fmt.Sprintf("You can only have a maximum of %d wallets added.", b.maxWallets), nil
		}
	}

	bal, ok := retry.Fetch(ctx, b.rc, retry.BalanceOp(addr), func(ctx context.Context) (decimal.Decimal, error) {
		return b.src.Balance(ctx, addr)
	})
	if !ok {
		return fmt.Sprintf("Error: Could not fetch the balance for wallet `%s`.", addr), nil
	}

	if err = b.db.SaveWallet(ctx, store.Wallet{UserID: m.UserID, Address: addr, Previous: bal, Current: bal}); err != nil {
		return "", err
	}

	b.log.WithFields(logrus.Fields{"user": m.UserID, "address": addr, "balance": bal.String()}).
		Info("wallet added")

	return fmt.Sprintf("Wallet `%s` has been added to your watchlist with a balance of **%s**!", addr, bal), nil
}

func tracked(ws []store.Wallet, addr string) bool {
	for _, w := range ws {
		if w.Address == addr {
			return true
		}
	}

	return false
}

func (b *Bot) deleteWallet(ctx context.Context, m Message, args []string) (string, error) {
	if len(args) != 1 {
		return "", errUsage("Usage: `!deletewallet <wallet_address>`")
	}

	addr := args[0]

	err := b.db.DeleteWallet(ctx, m.UserID, addr)
	if errors.Is(err, store.ErrWalletNotFound) {
		return fmt.Sprintf("Wallet `%s` is not in your watchlist.", addr), nil
	}

	if err != nil {
		return "", err
	}

	return fmt.Sprintf("Wallet %s has been removed from your watchlist!", addr), nil
}

func (b *Bot) listWallets(ctx context.Context, m Message, _ []string) (string, error) {
	ws, err := b.db.GetWallets(ctx, m.UserID)
	if err != nil {
		return "", err
	}

	if len(ws) == 0 {
		return "🚫 Oops! It looks like you don't have any wallets added yet. Add one using !addwallet " +
			"<your_wallet_address> and start your journey to fortune! 💸", nil
	}

	lines := make([]string, 0, len(ws))
	for _, w := range ws {
		lines = append(lines, fmt.Sprintf("💰 Wallet: %s\n   🔄 Current Balance: **%s**\n", w.Address, w.Current))
	}

	return "✨ Here are your wallets, my savvy investor:\n\n" + strings.Join(lines, "\n") +
		"\n\nKeep those coins shining! 🌟", nil
}

func (b *Bot) summary(ctx context.Context, m Message, _ []string) (string, error) {
	ws, err := b.db.GetWallets(ctx, m.UserID)
	if err != nil {
		return "", err
	}

	if len(ws) == 0 {
		return "🚫 You don't have any wallets added yet. Add a wallet using `!addwallet <wallet_address>`.", nil
	}

	price := unavailable
	if p, ok := b.price(ctx); ok {
		price = "$" + p.StringFixed(4) + " USD" //nolint:gomnd // 4 decimals
	}

	parts := make([]string, 0, len(ws))

	for _, w := range ws {
		addr := w.Address

		rank, ok := retry.Fetch(ctx, b.rc, retry.RankOp(addr), func(ctx context.Context) (string, error) {
			return b.src.Rank(ctx, addr)
		})
		if !ok {
			rank = unknownRank
		}

		parts = append(parts, fmt.Sprintf("💼 **Wallet**: `%s`\n💰 **Balance**: %s DIVI\n🏅 **Rich List Rank**: %s\n",
			addr, w.Current, rank))
	}

	return "🔖 **Divi Price**: " + price + "\n\n" + strings.Join(parts, "\n"), nil
}

// price returns the cached price or fetches and caches it.
func (b *Bot) price(ctx context.Context) (decimal.Decimal, bool) {
	if p, ok := b.cache.Price(ctx); ok {
		return p, true
	}

	p, ok := retry.Fetch(ctx, b.rc, retry.PriceOp(), b.src.Price)
	if !ok {
		return decimal.Zero, false
	}

	if err := b.cache.SetPrice(ctx, p); err != nil {
		b.log.WithError(err).Warn("cannot cache price")
	}

	return p, true
}

func (b *Bot) help(context.Context, Message, []string) (string, error) {
	return fmt.Sprintf(Help, b.maxWallets), nil
}

func (b *Bot) adminStats(ctx context.Context, _ Message, _ []string) (string, error) {
	st, err := b.db.Stats(ctx)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("📊 **Admin Stats** 📊\nTotal Wallets: **%d**\nTotal Users: **%d**\n", st.Wallets, st.Users), nil
}
