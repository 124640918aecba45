package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is a navigated page.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string
	Stealth bool
}

// OpenTab creates a tab (through go-rod/stealth when asked), applies resource
// blocking and navigates to pageURL. A load that does not finish in time is
// logged, not fatal: single-page apps often never settle.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string, useStealth bool) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	log := mgr.cfg.Logger

	var page *rod.Page
	var err error
	if useStealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		applyResourceBlocking(page, mgr.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	log.Info("browser: tab opened", "page", pageID, "url", pageURL, "stealth", useStealth)
	return &Tab{Page: page, PageURL: pageURL, PageID: pageID, Stealth: useStealth}, nil
}

// CurrentURL returns location.href, falling back to the navigated URL.
func (t *Tab) CurrentURL(ctx context.Context) string {
	res, err := t.Page.Context(ctx).Eval(`() => location.href`)
	if err != nil {
		return t.PageURL
	}
	return res.Value.Str()
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
