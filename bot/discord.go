package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

// Discord connects a Bot to the Discord gateway. It also delivers balance notifications as direct messages.
type Discord struct {
	s   *discordgo.Session
	bot *Bot
	ctx context.Context //nolint:containedctx // handlers are called by discordgo without a context
	log *logrus.Entry
}

// NewDiscord returns an adapter authenticated with the bot token. Open must be called to start receiving messages.
func NewDiscord(ctx context.Context, token string, b *Bot, log *logrus.Entry) (*Discord, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("cannot create discord session: %w", err)
	}

	s.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	d := &Discord{s: s, bot: b, ctx: ctx, log: log}
	s.AddHandler(d.onReady)
	s.AddHandler(d.onMessage)

	return d, nil
}

// Open connects to the gateway.
func (d *Discord) Open() error {
	return d.s.Open()
}

// Close disconnects from the gateway.
func (d *Discord) Close() error {
	return d.s.Close()
}

func (d *Discord) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	d.log.WithField("as", r.User.Username).Info("bot is ready")
}

func (d *Discord) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	// direct messages only
	if m.GuildID != "" {
		return
	}

	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	reply := d.bot.Handle(d.ctx, Message{UserID: m.Author.ID, Username: m.Author.Username, Content: m.Content})
	if reply == "" {
		return
	}

	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		d.log.WithError(err).WithField("user", m.Author.ID).Warn("cannot send reply")
	}
}

// Deliver sends message to the user with ID recipient in a direct message.
func (d *Discord) Deliver(_ context.Context, recipient, message string) error {
	ch, err := d.s.UserChannelCreate(recipient)
	if err != nil {
		return fmt.Errorf("cannot open direct message channel with %s: %w", recipient, err)
	}

	if _, err = d.s.ChannelMessageSend(ch.ID, message); err != nil {
		return fmt.Errorf("cannot send direct message to %s: %w", recipient, err)
	}

	return nil
}
