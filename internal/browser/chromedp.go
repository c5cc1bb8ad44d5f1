package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// ChromeOptions configures the Chrome instances started by ChromeFactory
type ChromeOptions struct {
	Headless   bool
	ExecPath   string
	NoSandbox  bool
	WindowSize [2]int
	Logger     *slog.Logger
}

// ChromeDriver implements Driver on top of chromedp
type ChromeDriver struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// ChromeFactory returns a DriverFactory that starts one Chrome per call
func ChromeFactory(opts ChromeOptions) DriverFactory {
	return func(ctx context.Context, downloadDir string) (Driver, error) {
		return NewChromeDriver(ctx, downloadDir, opts)
	}
}

// NewChromeDriver starts Chrome with downloads routed to downloadDir
func NewChromeDriver(ctx context.Context, downloadDir string, opts ChromeOptions) (*ChromeDriver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	width, height := opts.WindowSize[0], opts.WindowSize[1]
	if width == 0 || height == 0 {
		width, height = 1366, 900
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", opts.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.WindowSize(width, height),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	// The browser outlives the caller's ctx; Close tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	d := &ChromeDriver{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      logger.With(slog.String("component", "browser.chrome")),
		closed:      make(chan struct{}),
	}

	start := time.Now()
	err := d.run(ctx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	d.logger.Debug("Chrome started",
		slog.String("download_dir", downloadDir),
		slog.Duration("startup", time.Since(start)))
	return d, nil
}

// run executes actions on the browser context, bounded by ctx
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	select {
	case <-d.closed:
		return ErrDriverClosed
	default:
	}

	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil {
		select {
		case <-d.closed:
			return ErrDriverClosed
		default:
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func selector(loc Locator) (string, chromedp.QueryOption) {
	switch loc.By {
	case ByXPath:
		return loc.Value, chromedp.BySearch
	case ByCSS:
		return loc.Value, chromedp.ByQuery
	default:
		// attribute form tolerates ids that are not valid CSS identifiers
		return fmt.Sprintf("[id=%q]", loc.Value), chromedp.ByQuery
	}
}

// jsElements returns a JS expression evaluating to an array of matches
func jsElements(loc Locator) string {
	v, _ := json.Marshal(loc.Value)
	switch loc.By {
	case ByXPath:
		return fmt.Sprintf(`(function(){var r=document.evaluate(%s,document,null,XPathResult.ORDERED_NODE_SNAPSHOT_TYPE,null);var a=[];for(var i=0;i<r.snapshotLength;i++){a.push(r.snapshotItem(i));}return a;})()`, v)
	case ByCSS:
		return fmt.Sprintf(`Array.from(document.querySelectorAll(%s))`, v)
	default:
		return fmt.Sprintf(`[document.getElementById(%s)].filter(Boolean)`, v)
	}
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *ChromeDriver) WaitVisible(ctx context.Context, loc Locator) error {
	sel, by := selector(loc)
	return d.run(ctx, chromedp.WaitVisible(sel, by))
}

func (d *ChromeDriver) WaitPresent(ctx context.Context, loc Locator) error {
	sel, by := selector(loc)
	return d.run(ctx, chromedp.WaitReady(sel, by))
}

func (d *ChromeDriver) WaitGone(ctx context.Context, loc Locator) error {
	sel, by := selector(loc)
	return d.run(ctx, chromedp.WaitNotPresent(sel, by))
}

func (d *ChromeDriver) Click(ctx context.Context, loc Locator) error {
	sel, by := selector(loc)
	return d.run(ctx, chromedp.WaitVisible(sel, by), chromedp.Click(sel, by))
}

func (d *ChromeDriver) JSClick(ctx context.Context, loc Locator) error {
	var clicked bool
	js := fmt.Sprintf(`(function(){var e=%s;if(!e.length){return false;}e[0].click();return true;})()`, jsElements(loc))
	if err := d.run(ctx, chromedp.Evaluate(js, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("%w: %s", ErrElementNotFound, loc)
	}
	return nil
}

func (d *ChromeDriver) SetText(ctx context.Context, loc Locator, text string) error {
	sel, by := selector(loc)
	// SendKeys fires the input events AngularJS bindings listen to
	return d.run(ctx,
		chromedp.WaitVisible(sel, by),
		chromedp.SetValue(sel, "", by),
		chromedp.SendKeys(sel, text, by),
	)
}

func (d *ChromeDriver) PressKey(ctx context.Context, key string) error {
	return d.run(ctx, chromedp.KeyEvent(key))
}

func (d *ChromeDriver) Texts(ctx context.Context, loc Locator) ([]string, error) {
	var texts []string
	js := fmt.Sprintf(`%s.map(function(e){return (e.innerText||e.textContent||'').trim();})`, jsElements(loc))
	if err := d.run(ctx, chromedp.Evaluate(js, &texts)); err != nil {
		return nil, err
	}
	return texts, nil
}

func (d *ChromeDriver) Count(ctx context.Context, loc Locator) (int, error) {
	var n int
	if err := d.run(ctx, chromedp.Evaluate(jsElements(loc)+".length", &n)); err != nil {
		return 0, err
	}
	return n, nil
}

func (d *ChromeDriver) ClickNth(ctx context.Context, loc Locator, index int) error {
	sel, by := selector(loc)
	return d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var nodes []*cdp.Node
		if err := chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(0)).Do(ctx); err != nil {
			return err
		}
		if index < 0 || index >= len(nodes) {
			return fmt.Errorf("%w: %s[%d] of %d", ErrElementNotFound, loc, index, len(nodes))
		}
		return chromedp.MouseClickNode(nodes[index]).Do(ctx)
	}))
}

// Close quits Chrome. Safe to call more than once.
func (d *ChromeDriver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.closed)
		err = chromedp.Cancel(d.ctx)
		d.cancel()
		d.allocCancel()
	})
	return err
}
