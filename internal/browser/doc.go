// Package browser talks to the remote browser-automation provider. It
// creates and destroys cloud browser sessions, attaches to their
// remote-debugging endpoints via chromedp, and exposes the provider's
// AI-driven extract and act primitives.
package browser
