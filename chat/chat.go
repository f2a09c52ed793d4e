package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/otr-discord-bot/linkbridge/db"
	"github.com/otr-discord-bot/linkbridge/link"
	"github.com/otr-discord-bot/linkbridge/protocol"
)

const (
	msgPong          = "Pong!"
	msgLinkSent      = "I whispered you a link to authorize your osu! account."
	msgRelink        = "You are linked to the osu! account %s. Authorizing again replaces it."
	msgWhisperFailed = "I couldn't whisper you the authorization link. Allow whispers from strangers and try again."
	msgLinked        = "Successfully linked with an osu! account %s"
	msgLinkFailed    = "You did not authorize in time, or something went terribly wrong!"
	msgCommandFail   = "Something went wrong running that command."
)

// errNotDelivered marks a flow abandoned because the link never reached the
// requester; the channel has already been told.
var errNotDelivered = errors.New("authorization link not delivered")

// Sender delivers the bot's messages. Reply posts in the channel; Whisper
// reaches one user privately and reports whether it got through.
type Sender interface {
	Reply(channel, parentMsgID, text string)
	Whisper(ctx context.Context, userID, text string) error
}

// Whisperer sends a private message between two Twitch users;
// *twitchapi.HelixClient implements it.
type Whisperer interface {
	SendWhisper(ctx context.Context, fromUserID, toUserID, message string) error
}

// Accounts looks up existing links; *db.Accounts implements it.
type Accounts interface {
	GetLink(ctx context.Context, chatID string) (*db.LinkedAccount, error)
}

// Linker runs one account link flow; *link.Initiator implements it.
type Linker interface {
	Link(ctx context.Context, requesterID string, notify func(ctx context.Context, a link.Attempt, fresh bool) error) (*protocol.LinkResult, error)
}

// Bot dispatches chat commands.
type Bot struct {
	ctx      context.Context
	linker   Linker
	out      Sender
	accounts Accounts
	wg       sync.WaitGroup
}

// NewBot returns a Bot whose link flows live until ctx is done. accounts may
// be nil.
func NewBot(ctx context.Context, linker Linker, out Sender, accounts Accounts) *Bot {
	return &Bot{ctx: ctx, linker: linker, out: out, accounts: accounts}
}

// RequesterID is the chat identity a Twitch user's link is stored under.
func RequesterID(userID string) string { return "twitch:" + userID }

// HandleMessage reacts to a channel message. Link flows run asynchronously.
func (b *Bot) HandleMessage(msg twitch.PrivateMessage) {
	text := strings.TrimSpace(msg.Message)
	if !strings.HasPrefix(text, "!") {
		return
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return
	}
	switch strings.ToLower(fields[0]) {
	case "ping":
		b.out.Reply(msg.Channel, msg.ID, msgPong)
	case "link":
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.runLink(msg)
		}()
	}
}

func (b *Bot) runLink(msg twitch.PrivateMessage) {
	logger := slog.Default().With(
		slog.String("component", "chat"),
		slog.String("channel", msg.Channel),
		slog.String("user", msg.User.Name),
	)
	defer func() {
		if p := recover(); p != nil {
			logger.Error("link command panic", slog.Any("panic", p))
			b.out.Reply(msg.Channel, msg.ID, msgCommandFail)
		}
	}()

	requester := RequesterID(msg.User.ID)
	if prev := b.currentLink(requester, logger); prev != nil {
		b.out.Reply(msg.Channel, msg.ID, fmt.Sprintf(msgRelink, prev.OsuUsername))
	}
	res, err := b.linker.Link(b.ctx, requester, func(ctx context.Context, a link.Attempt, fresh bool) error {
		text := "Authorize your osu! account here: " + a.URL
		if !fresh {
			text = "You already have a link in progress: " + a.URL
		}
		if err := b.out.Whisper(ctx, msg.User.ID, text); err != nil {
			b.out.Reply(msg.Channel, msg.ID, msgWhisperFailed)
			return fmt.Errorf("%w: %v", errNotDelivered, err)
		}
		if fresh {
			b.out.Reply(msg.Channel, msg.ID, msgLinkSent)
		}
		return nil
	})
	switch {
	case errors.Is(err, link.ErrInProgress):
	case errors.Is(err, errNotDelivered):
		logger.Warn("link flow abandoned", slog.Any("err", err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Info("link flow stopped by shutdown")
	case err != nil:
		if errors.Is(err, link.ErrPollExhausted) {
			logger.Info("link attempt timed out")
		} else {
			logger.Error("link flow failed", slog.Any("err", err))
		}
		b.out.Reply(msg.Channel, msg.ID, msgLinkFailed)
	default:
		logger.Info("account linked", slog.Int64("osu_id", res.OsuID))
		b.out.Reply(msg.Channel, msg.ID, fmt.Sprintf(msgLinked, res.Username))
	}
}

// currentLink returns requester's stored link, or nil when there is none or
// the lookup fails.
func (b *Bot) currentLink(requester string, logger *slog.Logger) *db.LinkedAccount {
	if b.accounts == nil {
		return nil
	}
	acc, err := b.accounts.GetLink(b.ctx, requester)
	if err != nil {
		logger.Warn("linked account lookup failed", slog.Any("err", err))
		return nil
	}
	return acc
}

// Wait blocks until every started link flow has returned.
func (b *Bot) Wait() { b.wg.Wait() }

// Options configures the Twitch frontend.
type Options struct {
	Username  string
	Token     string
	Channels  []string
	BotUserID string
	Whisperer Whisperer
	Accounts  Accounts
}

// twitchSender replies over IRC and whispers through Helix. Twitch does not
// accept /w over IRC.
type twitchSender struct {
	client    *twitch.Client
	whisperer Whisperer
	botUserID string
}

func (s *twitchSender) Reply(channel, parentMsgID, text string) {
	s.client.Reply(channel, parentMsgID, text)
}

func (s *twitchSender) Whisper(ctx context.Context, userID, text string) error {
	return s.whisperer.SendWhisper(ctx, s.botUserID, userID, text)
}

// Run connects to Twitch IRC, joins the channels and serves commands until
// ctx is cancelled.
func Run(ctx context.Context, opts Options, linker Linker) error {
	if opts.Whisperer == nil || opts.BotUserID == "" {
		return errors.New("twitch chat: whisper delivery needs a Helix client and the bot user id")
	}
	client := twitch.NewClient(opts.Username, opts.Token)
	out := &twitchSender{client: client, whisperer: opts.Whisperer, botUserID: opts.BotUserID}
	bot := NewBot(ctx, linker, out, opts.Accounts)
	client.OnPrivateMessage(bot.HandleMessage)
	client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.Any("channels", opts.Channels), slog.String("component", "chat"))
	})
	client.Join(opts.Channels...)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			client.Disconnect()
		case <-done:
		}
	}()

	err := client.Connect()
	close(done)
	bot.Wait()
	if ctx.Err() != nil || errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return fmt.Errorf("twitch chat: %w", err)
}
