package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"

	"auction-ingest/internal/textnorm"
)

// Page is the parsed view of one fetched document that rules run against.
type Page struct {
	URL  *url.URL // nil when the source URL does not parse
	Raw  string   // NFKC-normalized markup, for regex rules
	Text string   // visible text, cleaned, for keyword scans
	DOM  *goquery.Document

	// JSON-LD nodes by @type.
	Products    []gjson.Result
	Breadcrumbs []gjson.Result
}

// NewPage parses raw markup. Malformed input yields a Page with a nil DOM
// rather than an error.
func NewPage(raw, sourceURL string) *Page {
	p := &Page{Raw: norm.NFKC.String(raw)}
	if u, err := url.Parse(sourceURL); err == nil && u.IsAbs() {
		p.URL = u
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.Raw))
	if err != nil {
		p.Text = textnorm.Clean(p.Raw)
		return p
	}
	p.DOM = doc

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		p.addLinkedData(gjson.Parse(strings.TrimSpace(s.Text())))
	})

	doc.Find("script, style, noscript, template").Remove()
	p.Text = textnorm.Clean(doc.Text())
	return p
}

// addLinkedData walks arrays and @graph containers and files nodes by type.
func (p *Page) addLinkedData(node gjson.Result) {
	switch {
	case node.IsArray():
		node.ForEach(func(_, v gjson.Result) bool {
			p.addLinkedData(v)
			return true
		})
	case node.IsObject():
		if graph := node.Get("@graph"); graph.Exists() {
			p.addLinkedData(graph)
		}
		switch {
		case hasType(node, "Product"), hasType(node, "IndividualProduct"):
			p.Products = append(p.Products, node)
		case hasType(node, "BreadcrumbList"):
			p.Breadcrumbs = append(p.Breadcrumbs, node)
		}
	}
}

func hasType(node gjson.Result, name string) bool {
	t := node.Get("@type")
	if t.IsArray() {
		for _, v := range t.Array() {
			if strings.EqualFold(v.String(), name) {
				return true
			}
		}
		return false
	}
	return strings.EqualFold(t.String(), name)
}

// product returns the first non-empty value at path across Product nodes.
func (p *Page) product(paths ...string) (gjson.Result, bool) {
	for _, prod := range p.Products {
		for _, path := range paths {
			if v := prod.Get(path); v.Exists() && v.String() != "" {
				return v, true
			}
		}
	}
	return gjson.Result{}, false
}

// meta returns the content of the first <meta> whose property or name is key.
func (p *Page) meta(key string) (string, bool) {
	if p.DOM == nil {
		return "", false
	}
	sel := p.DOM.Find(`meta[property="` + key + `"], meta[name="` + key + `"]`).First()
	v, ok := sel.Attr("content")
	v = textnorm.Clean(v)
	return v, ok && v != ""
}

// selectText returns the cleaned text of the first non-empty match of selector.
func (p *Page) selectText(selector string) (string, bool) {
	if p.DOM == nil {
		return "", false
	}
	var out string
	p.DOM.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = textnorm.Clean(s.Text())
		return out == ""
	})
	return out, out != ""
}

// resolve makes ref absolute against the page URL.
func (p *Page) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return ""
		}
		return u.String()
	}
	if p.URL == nil {
		return ""
	}
	return p.URL.ResolveReference(u).String()
}
