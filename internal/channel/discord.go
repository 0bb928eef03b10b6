package channel

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	logx "newsbot/pkg/logx"
)

const discordTextLimit = 2000

// Discord posts through the REST API only; no gateway connection is opened.
type Discord struct {
	session *discordgo.Session
	log     logx.Logger
}

func NewDiscord(token string, timeout time.Duration, log logx.Logger) (*Discord, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s.Client = &http.Client{Timeout: timeout}
	// the caller owns retries
	s.MaxRestRetries = 0
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Discord{session: s, log: log.With(logx.String("channel", "discord"))}, nil
}

func (d *Discord) Validate(ctx context.Context, channelID string) error {
	if strings.TrimSpace(channelID) == "" {
		return Permanent(errors.New("discord channel id is empty"))
	}
	ch, err := d.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return classifyDiscord(err)
	}
	d.log.Debug("discord channel resolved", logx.String("chat_id", channelID), logx.String("name", ch.Name))
	return nil
}

func (d *Discord) Send(ctx context.Context, channelID, text string) error {
	for _, chunk := range splitText(text, discordTextLimit, false) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return classifyDiscord(err)
		}
	}
	return nil
}

// classifyDiscord treats 4xx other than 429 as permanent.
func classifyDiscord(err error) error {
	var re *discordgo.RESTError
	if errors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return Permanent(err)
		}
	}
	return err
}
