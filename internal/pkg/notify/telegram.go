package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	crerr "github.com/cockroachdb/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Min interval between two messages to the same chat (Telegram allows ~30/min).
const telegramSendInterval = 2 * time.Second

var (
	ErrQueueFull = crerr.New("notification queue is full")
	ErrStopped   = crerr.New("notifier stopped")
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends one message when a source starts failing and one
// when it recovers. Repeated failures of a failing source stay quiet.
type TelegramNotifier struct {
	bot      sender
	chatID   int64
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	failing  map[string]bool
	lastSend time.Time

	queue  chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTelegramNotifier(token string, chatID int64, logger *slog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = false

	if _, err := bot.GetMe(); err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}

	n := newTelegramNotifier(bot, chatID, telegramSendInterval, logger)
	n.logger.Info("Telegram notifier initialized", "chat_id", chatID)
	return n, nil
}

func newTelegramNotifier(bot sender, chatID int64, interval time.Duration, logger *slog.Logger) *TelegramNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &TelegramNotifier{
		bot:      bot,
		chatID:   chatID,
		interval: interval,
		logger:   logger,
		failing:  make(map[string]bool),
		queue:    make(chan Event, 100),
		ctx:      ctx,
		cancel:   cancel,
	}
	n.wg.Add(1)
	go n.sendLoop()
	return n
}

// Notify queues the event without blocking.
func (n *TelegramNotifier) Notify(ctx context.Context, ev Event) error {
	if n.ctx.Err() != nil {
		return ErrStopped
	}
	if !n.transition(ev) {
		return nil
	}

	select {
	case <-n.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case n.queue <- ev:
		return nil
	default:
		n.logger.Warn("Telegram message queue is full, dropping message", "source", ev.Source)
		return ErrQueueFull
	}
}

// transition reports whether ev changes the source's failing state.
func (n *TelegramNotifier) transition(ev Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	was := n.failing[ev.Source]
	switch ev.Kind {
	case EventFailed:
		n.failing[ev.Source] = true
		return !was
	case EventRecovered:
		delete(n.failing, ev.Source)
		return was
	}
	return false
}

func (n *TelegramNotifier) sendLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			for {
				select {
				case ev := <-n.queue:
					n.send(ev)
				default:
					return
				}
			}
		case ev := <-n.queue:
			n.send(ev)
		}
	}
}

func (n *TelegramNotifier) send(ev Event) {
	n.mu.Lock()
	wait := n.interval - time.Since(n.lastSend)
	n.mu.Unlock()
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-n.ctx.Done():
			// Still flush on shutdown, just without the pacing.
		}
	}

	msg := tgbotapi.NewMessage(n.chatID, formatEvent(ev))
	msg.ParseMode = tgbotapi.ModeMarkdown

	start := time.Now()
	_, err := n.bot.Send(msg)

	n.mu.Lock()
	n.lastSend = time.Now()
	n.mu.Unlock()

	if err != nil {
		n.logger.Error("Telegram send: failed", "source", ev.Source, "error", err)
		return
	}
	n.logger.Info("Telegram send: success", "source", ev.Source, "send_duration", time.Since(start))
}

// Close stops the sender after flushing queued messages.
func (n *TelegramNotifier) Close() {
	n.cancel()
	n.wg.Wait()
}

func formatEvent(ev Event) string {
	var b strings.Builder
	switch ev.Kind {
	case EventFailed:
		b.WriteString("*Fetch failing*\n\n")
	case EventRecovered:
		b.WriteString("*Fetch recovered*\n\n")
	}
	fmt.Fprintf(&b, "Source: *%s*", escapeMarkdown(ev.Source))
	if ev.Sport != "" {
		fmt.Fprintf(&b, " (%s)", ev.Sport)
	}
	b.WriteString("\n")
	if ev.Err != "" {
		fmt.Fprintf(&b, "Error: %s\n", escapeMarkdown(ev.Err))
	}
	if ev.JobID != "" {
		fmt.Fprintf(&b, "Job: `%s`\n", ev.JobID)
	}
	if !ev.At.IsZero() {
		fmt.Fprintf(&b, "_%s_", ev.At.UTC().Format("2006-01-02 15:04 UTC"))
	}
	return b.String()
}

// escapeMarkdown escapes the legacy Markdown control characters.
func escapeMarkdown(text string) string {
	return strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"`", "\\`",
	).Replace(text)
}
