// internal/browser/chrome.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/waypoint/internal/config"
)

const (
	// interactionTimeout bounds a single mouse or keyboard dispatch.
	interactionTimeout = 10 * time.Second
	// scrollStep is the wheel delta in pixels for one unit of scroll amount.
	scrollStep = 100
	// keystrokeAllowance extends the typing timeout per rune when input is humanized.
	keystrokeAllowance = 250 * time.Millisecond
)

// namedKeys maps the key names the agent uses to chromedp key sequences.
var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"home":       kb.Home,
	"end":        kb.End,
	"space":      " ",
}

// keySequence resolves a key name to the sequence sent by chromedp.KeyEvent.
// Single characters are sent as-is.
func keySequence(key string) (string, error) {
	if seq, ok := namedKeys[strings.ToLower(strings.TrimSpace(key))]; ok {
		return seq, nil
	}
	if len([]rune(key)) == 1 {
		return key, nil
	}
	return "", fmt.Errorf("unsupported key %q", key)
}

// ChromeActuator drives a single Chrome tab through the DevTools protocol.
type ChromeActuator struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	ctx    context.Context // browser context, owns the tab
	cancel context.CancelFunc

	// runActionsFunc executes chromedp actions; swapped out in tests.
	runActionsFunc func(ctx context.Context, actions ...chromedp.Action) error

	// motion is nil unless humanized input is enabled.
	motion *motion

	mu       sync.Mutex
	viewport Viewport
}

var _ Actuator = (*ChromeActuator)(nil)

// execAllocatorOptions builds the launch flags. Extra args are "name" or
// "name=value" pairs.
func execAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if key, value, ok := strings.Cut(arg, "="); ok {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// NewChromeActuator launches a browser and opens a tab. Close releases both.
func NewChromeActuator(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*ChromeActuator, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execAllocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	a := &ChromeActuator{
		logger: logger.Named("actuator"),
		cfg:    cfg,
		ctx:    browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}
	a.runActionsFunc = a.runActions
	if cfg.Humanize {
		a.motion = newMotion(time.Now().UnixNano())
	}

	// An empty Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		a.cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	a.logger.Info("Browser started", zap.Bool("headless", cfg.Headless),
		zap.Int("width", cfg.ViewportWidth), zap.Int("height", cfg.ViewportHeight))
	return a, nil
}

// Close shuts the browser down.
func (a *ChromeActuator) Close() {
	if a.cancel != nil {
		a.cancel()
	}
}

// runActions runs actions on the tab, honoring cancellation and deadline of
// the operation context as well as the lifetime of the browser.
func (a *ChromeActuator) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(a.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	return chromedp.Run(runCtx, actions...)
}

func (a *ChromeActuator) Navigate(ctx context.Context, url string) error {
	timeout := a.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := a.runActionsFunc(opCtx, chromedp.Navigate(url)); err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation timeout of %dms exceeded for %s", timeout.Milliseconds(), url)
		}
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (a *ChromeActuator) Click(ctx context.Context, xPct, yPct float64) error {
	vp, err := a.ViewportSize(ctx)
	if err != nil {
		return err
	}
	x, y, err := ToPixels(vp, xPct, yPct)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, interactionTimeout)
	defer cancel()
	var actions chromedp.Tasks
	if a.motion != nil {
		actions = a.motion.moveTasks(x, y)
	}
	actions = append(actions, chromedp.MouseClickXY(x, y))
	if err := a.runActionsFunc(opCtx, actions...); err != nil {
		return fmt.Errorf("click at (%.0f, %.0f) failed: %w", x, y, err)
	}
	a.logger.Debug("Clicked", zap.Float64("x", x), zap.Float64("y", y))
	return nil
}

func (a *ChromeActuator) Type(ctx context.Context, text string) error {
	timeout := interactionTimeout
	var action chromedp.Action = chromedp.KeyEvent(text)
	if a.motion != nil {
		timeout += time.Duration(utf8.RuneCountInString(text)) * keystrokeAllowance
		action = a.motion.typeTasks(text)
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := a.runActionsFunc(opCtx, action); err != nil {
		return fmt.Errorf("typing failed: %w", err)
	}
	return nil
}

// Scroll dispatches a mouse wheel event at the centre of the viewport.
func (a *ChromeActuator) Scroll(ctx context.Context, dir Direction, amount int) error {
	if !dir.Valid() {
		return fmt.Errorf("invalid scroll direction %q", dir)
	}
	if amount <= 0 {
		amount = 1
	}
	vp, err := a.ViewportSize(ctx)
	if err != nil {
		return err
	}
	cx, cy, err := ToPixels(vp, 50, 50)
	if err != nil {
		return err
	}

	delta := float64(amount * scrollStep)
	if dir == DirectionUp {
		delta = -delta
	}
	wheel := input.DispatchMouseEvent(input.MouseWheel, cx, cy).WithDeltaX(0).WithDeltaY(delta)

	opCtx, cancel := context.WithTimeout(ctx, interactionTimeout)
	defer cancel()
	if err := a.runActionsFunc(opCtx, wheel); err != nil {
		return fmt.Errorf("scroll %s failed: %w", dir, err)
	}
	return nil
}

func (a *ChromeActuator) PressKey(ctx context.Context, key string) error {
	seq, err := keySequence(key)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, interactionTimeout)
	defer cancel()
	if err := a.runActionsFunc(opCtx, chromedp.KeyEvent(seq)); err != nil {
		return fmt.Errorf("pressing %s failed: %w", key, err)
	}
	return nil
}

func (a *ChromeActuator) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := a.runActionsFunc(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// ViewportSize reads the current inner window size. The last known good size
// is reused if the page cannot be evaluated.
func (a *ChromeActuator) ViewportSize(ctx context.Context) (Viewport, error) {
	var vp Viewport
	err := a.runActionsFunc(ctx, chromedp.Evaluate(`({width: window.innerWidth, height: window.innerHeight})`, &vp))

	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil && vp.Width > 0 && vp.Height > 0 {
		a.viewport = vp
		return vp, nil
	}
	if a.viewport.Width > 0 && a.viewport.Height > 0 {
		return a.viewport, nil
	}
	if err != nil {
		return Viewport{}, fmt.Errorf("failed to read viewport: %w", err)
	}
	return Viewport{}, ErrUnknownViewport
}

func (a *ChromeActuator) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := a.runActionsFunc(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

func (a *ChromeActuator) Title(ctx context.Context) (string, error) {
	var title string
	if err := a.runActionsFunc(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}
