package channel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	tele "gopkg.in/telebot.v4"

	logx "newsbot/pkg/logx"
)

const (
	telegramTextLimit = 4000
	chunkProgressTTL  = 30 * time.Minute
)

// chatRef addresses a chat by numeric id or @username without resolving it.
type chatRef string

func (c chatRef) Recipient() string { return string(c) }

// Telegram sends through the Bot API. It never polls for updates.
//
// telebot does not take a context: ctx is checked before each request, and a
// request already in flight is bounded by TelegramOptions.Timeout, which is
// fixed at construction.
type Telegram struct {
	bot *tele.Bot
	log logx.Logger

	// chunks already delivered per (chat, text), so a retried long message
	// resumes at the chunk that failed
	progress *gocache.Cache
}

// TelegramOptions tunes the client; zero values use defaults.
type TelegramOptions struct {
	APIURL  string // defaults to the public Bot API
	Timeout time.Duration
}

func NewTelegram(token string, opt TelegramOptions, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     opt.APIURL,
		Offline: true,
		Client:  &http.Client{Timeout: opt.Timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:      b,
		log:      log.With(logx.String("channel", "telegram")),
		progress: gocache.New(chunkProgressTTL, chunkProgressTTL),
	}, nil
}

// Validate resolves the chat, which also proves the token works.
func (t *Telegram) Validate(ctx context.Context, chatID string) error {
	if strings.TrimSpace(chatID) == "" {
		return Permanent(errors.New("telegram chat id is empty"))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	chat, err := t.bot.ChatByUsername(chatID)
	if err != nil {
		return classifyTelegram(err)
	}
	t.log.Debug("telegram chat resolved", logx.String("chat_id", chatID), logx.String("title", chat.Title))
	return nil
}

// Send delivers text in chunks of at most telegramTextLimit runes. When a
// later chunk fails, the next Send of the same text to the same chat skips
// the chunks that already went out.
func (t *Telegram) Send(ctx context.Context, chatID, text string) error {
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}
	chunks := splitText(text, telegramTextLimit, true)

	key, done := "", 0
	if len(chunks) > 1 {
		key = progressKey(chatID, text)
		if v, ok := t.progress.Get(key); ok {
			done, _ = v.(int)
		}
	}
	for i := done; i < len(chunks); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.bot.Send(chatRef(chatID), chunks[i], opts); err != nil {
			return classifyTelegram(err)
		}
		if key != "" {
			t.progress.SetDefault(key, i+1)
		}
	}
	if key != "" {
		t.progress.Delete(key)
	}
	return nil
}

func progressKey(chatID, text string) string {
	sum := sha256.Sum256([]byte(chatID + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func classifyTelegram(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return err
	}
	var te *tele.Error
	if errors.As(err, &te) {
		switch te.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return Permanent(err)
		}
	}
	return err
}
