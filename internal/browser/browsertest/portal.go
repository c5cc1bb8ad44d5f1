// Package browsertest provides an in-memory accounting portal that
// implements browser.Driver for tests.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"munireports/internal/browser"
)

// MonthNames are the dropdown options offered by default
var MonthNames = []string{
	"Janeiro", "Fevereiro", "Março", "Abril", "Maio", "Junho",
	"Julho", "Agosto", "Setembro", "Outubro", "Novembro", "Dezembro",
}

// Stats counts what happened on the portal
type Stats struct {
	Started    int
	Closed     int
	Logins     int
	Rejections int
	Submitted  int
	Downloaded int
}

type execution struct {
	file       string
	downloaded bool
}

// Portal simulates the server side shared by every browser session.
// Executions are queued per (user, municipality, year) context.
type Portal struct {
	Layout       browser.Layout
	SubmitButton browser.Locator

	// FileName names the file produced by the n-th submission (1-based)
	// of a context. Defaults to Relatorio_NN.xls.
	FileName func(n int) string
	// ActionDelay is added to every driver call
	ActionDelay time.Duration
	// StartErr makes the factory fail
	StartErr error
	// KeepDownloaded keeps downloaded executions in the listing, as the
	// live executions panel does
	KeepDownloaded bool

	mu          sync.Mutex
	rejected    map[string]bool
	unavailable map[string]bool
	options     map[string][]string
	queues      map[string][]*execution
	seq         map[string]int
	stats       Stats
	open        map[*Driver]bool
}

// NewPortal returns a portal using the default layout where every
// locator is visible and every login is accepted.
func NewPortal(submit browser.Locator) *Portal {
	return &Portal{
		Layout:       browser.DefaultLayout(),
		SubmitButton: submit,
		rejected:     make(map[string]bool),
		unavailable:  make(map[string]bool),
		options:      make(map[string][]string),
		queues:       make(map[string][]*execution),
		seq:          make(map[string]int),
		open:         make(map[*Driver]bool),
	}
}

// RejectUser makes logins with username fail
func (p *Portal) RejectUser(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected[username] = true
}

// MakeUnavailable makes loc never appear; waits on it block until timeout
func (p *Portal) MakeUnavailable(loc browser.Locator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable[loc.String()] = true
}

// SetOptions sets the texts returned for a results-list locator
func (p *Portal) SetOptions(loc browser.Locator, texts []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.options[loc.String()] = texts
}

// Stats returns a snapshot of the counters
func (p *Portal) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// OpenDrivers returns how many browsers are still running
func (p *Portal) OpenDrivers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

// Pending returns the number of executions not yet downloaded for a user
func (p *Portal) Pending(username string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for key, q := range p.queues {
		if !strings.HasPrefix(key, username+"|") {
			continue
		}
		for _, e := range q {
			if !e.downloaded {
				n++
			}
		}
	}
	return n
}

// Factory returns a DriverFactory bound to this portal
func (p *Portal) Factory() browser.DriverFactory {
	return func(ctx context.Context, downloadDir string) (browser.Driver, error) {
		if p.StartErr != nil {
			return nil, p.StartErr
		}
		if err := os.MkdirAll(downloadDir, 0755); err != nil {
			return nil, err
		}
		d := &Driver{
			portal:      p,
			downloadDir: downloadDir,
			closed:      make(chan struct{}),
		}
		p.mu.Lock()
		p.stats.Started++
		p.open[d] = true
		p.mu.Unlock()
		return d, nil
	}
}

func (p *Portal) isUnavailable(loc browser.Locator) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unavailable[loc.String()]
}

func (p *Portal) fileName(n int) string {
	if p.FileName != nil {
		return p.FileName(n)
	}
	return fmt.Sprintf("Relatorio_%02d.xls", n)
}

// tilePrefix returns the fixed part of a tile template
func tilePrefix(tmpl browser.Locator) string {
	if i := strings.Index(tmpl.Value, "{"); i >= 0 {
		return tmpl.Value[:i]
	}
	return tmpl.Value
}

// Driver is one fake browser instance
type Driver struct {
	portal      *Portal
	downloadDir string

	mu           sync.Mutex
	username     string
	loggedIn     bool
	rejected     bool
	municipality string
	year         string
	listing      []*execution

	closeOnce sync.Once
	closed    chan struct{}
}

func (d *Driver) contextKey() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.username + "|" + d.municipality + "|" + d.year
}

// pause applies ActionDelay and reports closure or ctx expiry
func (d *Driver) pause(ctx context.Context) error {
	if delay := d.portal.ActionDelay; delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-d.closed:
			return browser.ErrDriverClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-d.closed:
		return browser.ErrDriverClosed
	default:
	}
	return ctx.Err()
}

// block waits for ctx expiry or closure, as a wait on a missing element does
func (d *Driver) block(ctx context.Context) error {
	select {
	case <-d.closed:
		return browser.ErrDriverClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) visible(loc browser.Locator) bool {
	l := d.portal.Layout
	if d.portal.isUnavailable(loc) {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch loc {
	case l.LoginError:
		return d.rejected
	case l.PostLoginLandmark:
		return d.loggedIn
	}
	return true
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	return d.pause(ctx)
}

func (d *Driver) WaitVisible(ctx context.Context, loc browser.Locator) error {
	if err := d.pause(ctx); err != nil {
		return err
	}
	if !d.visible(loc) {
		return d.block(ctx)
	}
	return nil
}

func (d *Driver) WaitPresent(ctx context.Context, loc browser.Locator) error {
	return d.WaitVisible(ctx, loc)
}

func (d *Driver) WaitGone(ctx context.Context, loc browser.Locator) error {
	return d.pause(ctx)
}

func (d *Driver) Click(ctx context.Context, loc browser.Locator) error {
	if err := d.WaitVisible(ctx, loc); err != nil {
		return err
	}
	d.onClick(loc)
	return nil
}

func (d *Driver) JSClick(ctx context.Context, loc browser.Locator) error {
	if err := d.pause(ctx); err != nil {
		return err
	}
	if !d.visible(loc) {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, loc)
	}
	d.onClick(loc)
	return nil
}

func (d *Driver) onClick(loc browser.Locator) {
	p := d.portal
	l := p.Layout
	switch {
	case loc == l.LoginButton:
		d.mu.Lock()
		user := d.username
		d.mu.Unlock()
		p.mu.Lock()
		reject := p.rejected[user]
		if reject {
			p.stats.Rejections++
		} else {
			p.stats.Logins++
		}
		p.mu.Unlock()
		d.mu.Lock()
		d.rejected = reject
		d.loggedIn = !reject
		d.mu.Unlock()
	case strings.HasPrefix(loc.Value, tilePrefix(l.MunicipalityTile)):
		d.mu.Lock()
		d.municipality = loc.Value
		d.mu.Unlock()
	case strings.HasPrefix(loc.Value, tilePrefix(l.ExerciseTile)):
		d.mu.Lock()
		d.year = loc.Value
		d.mu.Unlock()
	case loc == p.SubmitButton:
		key := d.contextKey()
		p.mu.Lock()
		p.seq[key]++
		p.queues[key] = append(p.queues[key], &execution{file: p.fileName(p.seq[key])})
		p.stats.Submitted++
		p.mu.Unlock()
	case loc == l.ExecutionsButton || loc == l.ExecutionsRefresh:
		d.refreshListing()
	}
}

func (d *Driver) refreshListing() {
	key := d.contextKey()
	p := d.portal
	p.mu.Lock()
	var listing []*execution
	for _, e := range p.queues[key] {
		if p.KeepDownloaded || !e.downloaded {
			listing = append(listing, e)
		}
	}
	p.mu.Unlock()
	d.mu.Lock()
	d.listing = listing
	d.mu.Unlock()
}

func (d *Driver) SetText(ctx context.Context, loc browser.Locator, text string) error {
	if err := d.WaitVisible(ctx, loc); err != nil {
		return err
	}
	if loc == d.portal.Layout.UsernameField {
		d.mu.Lock()
		d.username = text
		d.mu.Unlock()
	}
	return nil
}

func (d *Driver) PressKey(ctx context.Context, key string) error {
	return d.pause(ctx)
}

func (d *Driver) Texts(ctx context.Context, loc browser.Locator) ([]string, error) {
	if err := d.pause(ctx); err != nil {
		return nil, err
	}
	if !d.visible(loc) {
		return nil, nil
	}
	d.portal.mu.Lock()
	opts, ok := d.portal.options[loc.String()]
	d.portal.mu.Unlock()
	if ok {
		return append([]string(nil), opts...), nil
	}
	return append(append([]string(nil), MonthNames...), "Consolidado"), nil
}

func (d *Driver) Count(ctx context.Context, loc browser.Locator) (int, error) {
	if err := d.pause(ctx); err != nil {
		return 0, err
	}
	if loc == d.portal.Layout.DownloadButtons {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.listing), nil
	}
	if !d.visible(loc) {
		return 0, nil
	}
	return 1, nil
}

func (d *Driver) ClickNth(ctx context.Context, loc browser.Locator, index int) error {
	if err := d.pause(ctx); err != nil {
		return err
	}
	if loc != d.portal.Layout.DownloadButtons {
		return d.Click(ctx, loc)
	}
	d.mu.Lock()
	if index < 0 || index >= len(d.listing) {
		d.mu.Unlock()
		return fmt.Errorf("%w: download %d", browser.ErrElementNotFound, index)
	}
	e := d.listing[index]
	d.mu.Unlock()

	if err := writeDownload(d.downloadDir, e.file); err != nil {
		return err
	}
	d.portal.mu.Lock()
	e.downloaded = true
	d.portal.stats.Downloaded++
	d.portal.mu.Unlock()
	return nil
}

func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
		d.portal.mu.Lock()
		delete(d.portal.open, d)
		d.portal.stats.Closed++
		d.portal.mu.Unlock()
	})
	return nil
}

// writeDownload stores name in dir the way Chrome does, appending " (n)"
// when the name is taken.
func writeDownload(dir, name string) error {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	target := filepath.Join(dir, name)
	for n := 1; ; n++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			break
		}
		target = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
	return os.WriteFile(target, []byte("fake xls: "+name), 0644)
}
