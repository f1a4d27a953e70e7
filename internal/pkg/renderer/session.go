package renderer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
	crerr "github.com/cockroachdb/errors"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/config"
)

const pingTimeout = 5 * time.Second

// Session is one browser owned by one worker at a time.
type Session interface {
	// Render loads url, waits for rules.MarkerSelector and returns the page HTML.
	Render(ctx context.Context, url string, rules Rules) (string, error)
	// Ping reports whether the underlying browser is still usable.
	Ping(ctx context.Context) error
	Close() error
}

// BrowserSession is a headless Chrome process driven through chromedp.
// Every Render opens and closes its own tab.
type BrowserSession struct {
	cfg           config.RendererConfig
	logger        *slog.Logger
	userDataDir   string
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

var _ Session = (*BrowserSession)(nil)

// NewBrowserSession starts Chrome and waits until it accepts commands.
func NewBrowserSession(cfg config.RendererConfig, logger *slog.Logger) (*BrowserSession, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir, err := os.MkdirTemp("", "scorito-chrome-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create chrome profile dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserDataDir(dir),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, v ...interface{}) {
		logger.Debug(fmt.Sprintf(format, v...), "component", "chromedp")
	}))

	s := &BrowserSession{
		cfg:           cfg,
		logger:        logger,
		userDataDir:   dir,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}

	// The first Run launches the browser and binds it to browserCtx.
	if err := chromedp.Run(browserCtx); err != nil {
		_ = s.Close()
		return nil, crerr.Mark(crerr.Wrap(err, "start browser"), ErrRender)
	}
	return s, nil
}

func (s *BrowserSession) Render(ctx context.Context, url string, rules Rules) (string, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	if err := chromedp.Run(tabCtx); err != nil {
		return "", crerr.Mark(crerr.Wrap(err, "open tab"), ErrRender)
	}

	if err := s.runWithin(tabCtx, s.cfg.NavigateTimeout, chromedp.Navigate(url)); err != nil {
		return "", classify(err, "navigate")
	}

	if rules.ConsentSelector != "" && s.cfg.ConsentTimeout > 0 {
		err := s.runWithin(tabCtx, s.cfg.ConsentTimeout, chromedp.Click(rules.ConsentSelector, chromedp.ByQuery))
		if err != nil {
			s.logger.Debug("No consent overlay", "url", url)
		}
	}

	if rules.MarkerSelector != "" {
		err := s.runWithin(tabCtx, s.cfg.MarkerTimeout, chromedp.WaitVisible(rules.MarkerSelector, chromedp.ByQuery))
		if err != nil {
			return "", classify(err, "wait for "+rules.MarkerSelector)
		}
	}

	if rules.ScrollToLoad && rules.RowSelector != "" {
		if err := s.scrollUntilStable(tabCtx, rules.RowSelector); err != nil {
			return "", classify(err, "scroll")
		}
	}

	var html string
	if err := s.runWithin(tabCtx, s.cfg.NavigateTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", classify(err, "read html")
	}
	return html, nil
}

// scrollUntilStable scrolls to the bottom until the number of rows stops
// growing or MaxScrolls is reached.
func (s *BrowserSession) scrollUntilStable(ctx context.Context, rowSelector string) error {
	countJS := "document.querySelectorAll(" + strconv.Quote(rowSelector) + ").length"
	prev := -1
	for i := 0; i < s.cfg.MaxScrolls; i++ {
		var count int
		if err := s.runWithin(ctx, s.cfg.MarkerTimeout, chromedp.Evaluate(countJS, &count)); err != nil {
			return err
		}
		if count == prev {
			return nil
		}
		prev = count

		err := s.runWithin(ctx, s.cfg.MarkerTimeout+s.cfg.ScrollSettle,
			chromedp.Evaluate("window.scrollBy(0, document.body.scrollHeight)", nil),
			chromedp.Sleep(s.cfg.ScrollSettle),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *BrowserSession) runWithin(parent context.Context, d time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// Ping lists browser targets; a dead browser process fails here.
func (s *BrowserSession) Ping(ctx context.Context) error {
	if err := s.browserCtx.Err(); err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(s.browserCtx, pingTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	_, err := chromedp.Targets(pctx)
	return err
}

func (s *BrowserSession) Close() error {
	s.browserCancel()
	s.allocCancel()
	return os.RemoveAll(s.userDataDir)
}

func classify(err error, step string) error {
	if crerr.Is(err, context.DeadlineExceeded) {
		return crerr.Mark(crerr.Wrap(err, step), ErrRenderTimeout)
	}
	return crerr.Mark(crerr.Wrap(err, step), ErrRender)
}
