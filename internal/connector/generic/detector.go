package generic

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// renderMarkers are lowercase substrings that betray a client-rendered shell:
// SPA framework payloads and empty mount points. Pages carrying one get
// promoted to a real browser.
var renderMarkers = [][]byte{
	[]byte("__next_data__"),
	[]byte("window.__initial_state__"),
	[]byte("window.__nuxt__"),
	[]byte(`id="root"></div>`),
	[]byte(`id="app"></div>`),
	[]byte("enable javascript"),
	[]byte("请开启javascript"),
}

// renderDetector decides whether static HTML is trustworthy or the page
// needs a scripted browser pass.
type renderDetector struct {
	minHTMLBytes int
}

func newRenderDetector(minBytes int) *renderDetector {
	return &renderDetector{minHTMLBytes: minBytes}
}

// needsBrowser inspects the fetched body for signals that the real content
// only exists after script execution.
func (d *renderDetector) needsBrowser(body []byte) bool {
	if d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes {
		return true
	}
	lowered := bytes.ToLower(body)
	for _, marker := range renderMarkers {
		if bytes.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// maxTextRunes caps the plain-text excerpt carried in a static extraction.
const maxTextRunes = 5000

// parseStatic pulls the conventional document fields out of static HTML:
// title, meta description, Open Graph properties, and a whitespace-collapsed
// text excerpt.
func parseStatic(body []byte) (map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	data := map[string]any{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		data["title"] = title
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		if desc = strings.TrimSpace(desc); desc != "" {
			data["description"] = desc
		}
	}

	og := map[string]any{}
	doc.Find(`meta[property^="og:"]`).Each(func(_ int, sel *goquery.Selection) {
		prop, _ := sel.Attr("property")
		val, _ := sel.Attr("content")
		prop = strings.TrimPrefix(prop, "og:")
		if prop != "" && val != "" {
			og[prop] = val
		}
	})
	if len(og) > 0 {
		data["open_graph"] = og
	}

	doc.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if runes := []rune(text); len(runes) > maxTextRunes {
		text = string(runes[:maxTextRunes])
	}
	if text != "" {
		data["text"] = text
	}
	return data, nil
}

// hasSubstance reports whether a static parse found enough to stand on its
// own. Thin results defer to the browser path.
func hasSubstance(data map[string]any) bool {
	if title, ok := data["title"].(string); ok && title != "" {
		return true
	}
	text, ok := data["text"].(string)
	return ok && len([]rune(text)) >= 80
}
