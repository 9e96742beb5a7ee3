package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/AI-static/Aether/internal/content"
)

// page drives one tab through chromedp and reaches the provider's AI
// primitives through the owning session.
type page struct {
	session *Session
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     SessionConfig
}

var _ content.Page = (*page)(nil)

// run executes chromedp actions bounded by the given timeout. The caller's
// context is linked in so cancellation upstream aborts the browser work.
func (p *page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *page) Navigate(ctx context.Context, url string) error {
	err := p.run(ctx, p.cfg.NavTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Give client-side rendering a moment to hydrate before anyone
		// reads the DOM.
		chromedp.Sleep(p.cfg.PageSettle),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.cfg.NavTimeout
	}
	err := p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	return nil
}

func (p *page) SetCookies(ctx context.Context, cookies []content.Cookie) error {
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		for _, c := range cookies {
			param := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if c.Expires != nil {
				epoch := cdp.TimeSinceEpoch(*c.Expires)
				param = param.WithExpires(&epoch)
			}
			if err := param.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
	if err := p.run(ctx, p.cfg.NavTimeout, action); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

func (p *page) EvaluateInto(ctx context.Context, expression string, out any) error {
	if err := p.run(ctx, p.cfg.NavTimeout, chromedp.Evaluate(expression, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

func (p *page) Extract(ctx context.Context, instruction string, schema map[string]any) (map[string]any, error) {
	loc, err := p.Location(ctx)
	if err != nil {
		return nil, err
	}
	return p.session.provider.Extract(ctx, ExtractRequest{
		SessionID:   p.session.ID(),
		PageURL:     loc,
		Instruction: instruction,
		Schema:      schema,
		TextOnly:    true,
	})
}

func (p *page) Act(ctx context.Context, instruction string) error {
	loc, err := p.Location(ctx)
	if err != nil {
		return err
	}
	res, err := p.session.provider.Act(ctx, ActRequest{
		SessionID:   p.session.ID(),
		PageURL:     loc,
		Instruction: instruction,
	})
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("act %q: %s", instruction, valueOr(res.Message, "provider reported failure"))
	}
	return nil
}

func (p *page) Location(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, p.cfg.NavTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return loc, nil
}

func (p *page) Close() {
	p.cancel()
}
