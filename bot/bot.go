// Package bot implements the command front end of the service.
//
// Users talk to the bot through direct messages. Each message is one command (see Help) and gets one text reply.
// Bot is independent of the chat transport: the Discord adapter in this package feeds it the messages received and
// sends back the replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tarancss/stakewatch/lib/audit"
	"github.com/tarancss/stakewatch/lib/block"
	"github.com/tarancss/stakewatch/lib/cache"
	"github.com/tarancss/stakewatch/lib/metrics"
	"github.com/tarancss/stakewatch/lib/retry"
	"github.com/tarancss/stakewatch/lib/store"
)

// MaxWalletsDefault is the number of wallets a user can track.
var MaxWalletsDefault = 3

// Commands
const (
	CmdAddWallet    = "!addwallet"
	CmdDeleteWallet = "!deletewallet"
	CmdListWallets  = "!listwallets"
	CmdSummary      = "!summary"
	CmdHelp         = "!help"
	CmdAdminStats   = "!adminstats"
)

// Replies not tied to a single command.
const (
	ReplyInvalid  = "Error: Invalid command. Please use !help for instructions."
	ReplySlowDown = "⏳ Slow down! Please wait a moment before sending more commands."
	ReplyInternal = "Error: something went wrong on our side. Please try again later."
)

// Message is a direct message received from a user.
type Message struct {
	UserID   string
	Username string
	Content  string
}

// Options are the optional collaborators and settings of a Bot.
type Options struct {
	MaxWallets int
	Cache      *cache.Cache     // price cache and rate limit, may be nil
	Metrics    *metrics.Metrics // may be nil
}

// Bot handles user commands.
type Bot struct {
	db         store.DB
	src        block.Source
	rc         *retry.Client
	aud        *audit.Auditor
	cache      *cache.Cache
	met        *metrics.Metrics
	maxWallets int
	log        *logrus.Entry
}

type handler func(ctx context.Context, m Message, args []string) (string, error)

// errUsage signals a command with the wrong arguments. Its text is sent to the user.
type errUsage string

func (e errUsage) Error() string { return string(e) }

// New returns a Bot.
func New(db store.DB, src block.Source, rc *retry.Client, aud *audit.Auditor, opts Options, log *logrus.Entry) *Bot {
	if opts.MaxWallets <= 0 {
		opts.MaxWallets = MaxWalletsDefault
	}

	return &Bot{
		db:         db,
		src:        src,
		rc:         rc,
		aud:        aud,
		cache:      opts.Cache,
		met:        opts.Metrics,
		maxWallets: opts.MaxWallets,
		log:        log,
	}
}

// Handle runs the command in m and returns the reply. It returns an empty string for empty messages.
func (b *Bot) Handle(ctx context.Context, m Message) (reply string) {
	args := strings.Fields(m.Content)
	if len(args) == 0 {
		return ""
	}

	cmd := strings.ToLower(args[0])
	log := b.log.WithFields(logrus.Fields{"user": m.UserID, "command": cmd})
	ctx = audit.WithActor(ctx, m.UserID)

	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", p).Error("command panicked")
			b.aud.Report(ctx, fmt.Sprintf("Error handling %s for user %s: panic: %v", cmd, m.UserID, p))

			reply = ReplyInternal
		}
	}()

	admin := b.aud.IsAdmin(m.UserID)

	h := b.handler(cmd, admin)
	if h == nil {
		log.Debug("invalid command")

		return ReplyInvalid
	}

	if !admin && !b.cache.Allow(ctx, m.UserID) {
		log.Info("rate limited")

		return ReplySlowDown
	}

	b.met.Command(cmd)
	b.aud.Action(ctx, m.UserID, m.Username, fmt.Sprintf("%s used for %s", cmd, m.Username))

	reply, err := h(ctx, m, args[1:])
	if err != nil {
		var u errUsage
		if errors.As(err, &u) {
			return u.Error()
		}

		log.WithError(err).Error("command failed")
		b.aud.Report(ctx, fmt.Sprintf("Error handling %s for user %s: %v", cmd, m.UserID, err))

		return ReplyInternal
	}

	return reply
}

func (b *Bot) handler(cmd string, admin bool) handler {
	switch cmd {
	case CmdAddWallet:
		return b.addWallet
	case CmdDeleteWallet:
		return b.deleteWallet
	case CmdListWallets:
		return b.listWallets
	case CmdSummary:
		return b.summary
	case CmdHelp:
		return b.help
	case CmdAdminStats:
		if admin {
			return b.adminStats
		}
	}

	return nil
}
