package extract

import (
	"html"
	"math"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/textnorm"
)

var (
	reTitleTag     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	reSiteSuffix   = regexp.MustCompile(`(?i)\s*[-|｜]\s*[^-|｜]*(オークション|auction|フリマ|marketplace)[^-|｜]*$`)
	rePriceCurrent = regexp.MustCompile(`現在(?:価格)?[^0-9]{0,20}?([0-9][0-9,]*)\s*円`)
	rePriceYen     = regexp.MustCompile(`([0-9][0-9,]*)\s*円`)
	rePriceSymbol  = regexp.MustCompile(`¥\s*([0-9][0-9,]*)`)
	reImageURL     = regexp.MustCompile(`(?i)https?://[^"'\s<>()]+?\.(?:jpe?g|png|webp)(?:\?[^"'\s<>()]*)?`)
	reImageNoise   = regexp.MustCompile(`(?i)(icon|logo|sprite|spacer|badge|avatar)`)
	reBrandLabel   = regexp.MustCompile(`(?i)(?:ブランド|brand)\s*[:：]\s*([^<\n|]{1,40})`)
	reBidCount     = regexp.MustCompile(`(?i)(?:入札(?:件数|数)?[^0-9]{0,10}?([0-9][0-9,]*)|([0-9][0-9,]*)\s*bids?\b)`)
	reWatchCount   = regexp.MustCompile(`(?i)(?:ウォッチ(?:リスト)?(?:数)?[^0-9]{0,10}?([0-9][0-9,]*)|([0-9][0-9,]*)\s*watch(?:ers|ing)?\b)`)
	reAuctionPath  = regexp.MustCompile(`/auction/([A-Za-z]?[0-9]+)`)
	reItemPath     = regexp.MustCompile(`/(?:item|items|itm|product|products|listing|listings)/([A-Za-z0-9_-]{4,})`)
	reTrailingID   = regexp.MustCompile(`([0-9]{6,})[^0-9]*$`)
)

var idQueryKeys = []string{"aID", "item_id", "itemId", "id"}

// Title rules. The length floor is applied by the Extractor.
var titleRules = []Rule[string]{
	{Name: "jsonld.name", Apply: func(p *Page) (string, bool) {
		v, ok := p.product("name")
		return textnorm.Clean(v.String()), ok
	}},
	{Name: "meta.og:title", Apply: func(p *Page) (string, bool) {
		v, ok := p.meta("og:title")
		return trimSiteSuffix(v), ok
	}},
	{Name: "dom.h1", Apply: func(p *Page) (string, bool) {
		return p.selectText("h1")
	}},
	{Name: "regex.title", Apply: func(p *Page) (string, bool) {
		m := reTitleTag.FindStringSubmatch(p.Raw)
		if m == nil {
			return "", false
		}
		return trimSiteSuffix(textnorm.Clean(html.UnescapeString(m[1]))), true
	}},
}

var priceRules = RuleList[int64]{
	Field: "price",
	Rules: []Rule[int64]{
		{Name: "jsonld.offers.price", Apply: func(p *Page) (int64, bool) {
			v, ok := p.product("offers.price", "offers.0.price", "offers.lowPrice", "offers.0.lowPrice")
			if !ok {
				return 0, false
			}
			return parsePrice(v.String())
		}},
		{Name: "dom.itemprop", Apply: func(p *Page) (int64, bool) {
			if p.DOM == nil {
				return 0, false
			}
			sel := p.DOM.Find(`[itemprop="price"]`).First()
			if v, ok := sel.Attr("content"); ok {
				return parsePrice(v)
			}
			return parsePrice(sel.Text())
		}},
		{Name: "dom.data-price", Apply: func(p *Page) (int64, bool) {
			if p.DOM == nil {
				return 0, false
			}
			v, ok := p.DOM.Find("[data-price]").First().Attr("data-price")
			if !ok {
				return 0, false
			}
			return parsePrice(v)
		}},
		{Name: "regex.current", Apply: regexPrice(rePriceCurrent)},
		{Name: "regex.yen-suffix", Apply: regexPrice(rePriceYen)},
		{Name: "regex.yen-symbol", Apply: regexPrice(rePriceSymbol)},
	},
}

var imageRules = RuleList[[]string]{
	Field: "images",
	Rules: []Rule[[]string]{
		{Name: "jsonld.image", Apply: func(p *Page) ([]string, bool) {
			var out []string
			for _, prod := range p.Products {
				img := prod.Get("image")
				collect := func(v gjson.Result) {
					if v.IsObject() {
						v = v.Get("url")
					}
					if u := p.resolve(v.String()); u != "" {
						out = append(out, u)
					}
				}
				if img.IsArray() {
					img.ForEach(func(_, v gjson.Result) bool {
						collect(v)
						return true
					})
				} else if img.Exists() {
					collect(img)
				}
			}
			return out, len(out) > 0
		}},
		{Name: "meta.og:image", Apply: func(p *Page) ([]string, bool) {
			if p.DOM == nil {
				return nil, false
			}
			var out []string
			p.DOM.Find(`meta[property="og:image"], meta[name="og:image"]`).Each(func(_ int, s *goquery.Selection) {
				if u := p.resolve(s.AttrOr("content", "")); u != "" {
					out = append(out, u)
				}
			})
			return out, len(out) > 0
		}},
		{Name: "dom.gallery", Apply: func(p *Page) ([]string, bool) {
			if p.DOM == nil {
				return nil, false
			}
			var out []string
			p.DOM.Find(`[class*="gallery"] img, [class*="Gallery"] img, [class*="ProductImage"] img, [class*="slider"] img, [itemprop="image"]`).
				Each(func(_ int, s *goquery.Selection) {
					for _, attr := range []string{"data-src", "src", "content"} {
						if u := p.resolve(s.AttrOr(attr, "")); u != "" {
							out = append(out, u)
							return
						}
					}
				})
			return out, len(out) > 0
		}},
		{Name: "regex.image-url", Apply: func(p *Page) ([]string, bool) {
			var out []string
			for _, m := range reImageURL.FindAllString(p.Raw, -1) {
				if !reImageNoise.MatchString(m) {
					out = append(out, html.UnescapeString(m))
				}
			}
			return out, len(out) > 0
		}},
	},
}

var descriptionRules = RuleList[string]{
	Field: "description",
	Rules: []Rule[string]{
		{Name: "jsonld.description", Apply: func(p *Page) (string, bool) {
			v, ok := p.product("description")
			return textnorm.Clean(v.String()), ok
		}},
		{Name: "dom.description", Apply: func(p *Page) (string, bool) {
			return p.selectText(`[itemprop="description"], #description, [class*="ProductExplanation"], .description`)
		}},
		{Name: "meta.og:description", Apply: func(p *Page) (string, bool) {
			return p.meta("og:description")
		}},
		{Name: "meta.description", Apply: func(p *Page) (string, bool) {
			return p.meta("description")
		}},
	},
	Valid: func(s string) bool { return s != "" },
}

var categoryRules = RuleList[[]string]{
	Field: "category",
	Rules: []Rule[[]string]{
		{Name: "jsonld.breadcrumb", Apply: func(p *Page) ([]string, bool) {
			for _, bc := range p.Breadcrumbs {
				var out []string
				bc.Get("itemListElement").ForEach(func(_, el gjson.Result) bool {
					name := el.Get("name")
					if !name.Exists() {
						name = el.Get("item.name")
					}
					out = append(out, name.String())
					return true
				})
				if out = cleanCrumbs(out); len(out) > 0 {
					return out, true
				}
			}
			return nil, false
		}},
		{Name: "dom.breadcrumb", Apply: func(p *Page) ([]string, bool) {
			if p.DOM == nil {
				return nil, false
			}
			var out []string
			p.DOM.Find(`nav[aria-label*="breadcrumb"] li, .breadcrumb li, [class*="Breadcrumb"] li`).
				Each(func(_ int, s *goquery.Selection) {
					out = append(out, s.Text())
				})
			out = cleanCrumbs(out)
			return out, len(out) > 0
		}},
		{Name: "jsonld.category", Apply: func(p *Page) ([]string, bool) {
			v, ok := p.product("category")
			if !ok {
				return nil, false
			}
			out := cleanCrumbs(strings.FieldsFunc(v.String(), func(r rune) bool { return r == '>' || r == '/' }))
			return out, len(out) > 0
		}},
	},
}

var brandRules = RuleList[string]{
	Field: "brand",
	Rules: []Rule[string]{
		{Name: "jsonld.brand", Apply: func(p *Page) (string, bool) {
			v, ok := p.product("brand.name", "brand")
			if !ok || v.IsObject() {
				return "", false
			}
			return textnorm.Clean(v.String()), true
		}},
		{Name: "dom.itemprop", Apply: func(p *Page) (string, bool) {
			return p.selectText(`[itemprop="brand"]`)
		}},
		{Name: "regex.label", Apply: func(p *Page) (string, bool) {
			m := reBrandLabel.FindStringSubmatch(p.Text)
			if m == nil {
				return "", false
			}
			return textnorm.Clean(m[1]), true
		}},
	},
	Valid: func(s string) bool { return s != "" },
}

var conditionRules = RuleList[domain.Condition]{
	Field: "condition",
	Rules: []Rule[domain.Condition]{
		{Name: "jsonld.itemCondition", Apply: func(p *Page) (domain.Condition, bool) {
			v, ok := p.product("itemCondition", "offers.itemCondition", "offers.0.itemCondition")
			if !ok {
				return "", false
			}
			s := strings.ToLower(v.String())
			switch {
			case strings.Contains(s, "newcondition"):
				return domain.ConditionNew, true
			case strings.Contains(s, "used"), strings.Contains(s, "refurbished"), strings.Contains(s, "damaged"):
				return domain.ConditionUsed, true
			}
			return "", false
		}},
		{Name: "dom.condition-field", Apply: func(p *Page) (domain.Condition, bool) {
			if p.DOM == nil {
				return "", false
			}
			var value string
			p.DOM.Find("th, dt, td, li, span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				label := textnorm.Clean(s.Text())
				if label != "状態" && label != "商品の状態" && !strings.EqualFold(label, "condition") {
					return true
				}
				value = textnorm.Clean(s.Next().Text())
				return value == ""
			})
			return classifyCondition(value)
		}},
		{Name: "keyword.scan", Apply: func(p *Page) (domain.Condition, bool) {
			return classifyCondition(p.Text)
		}},
	},
}

var statusRules = RuleList[domain.ListingStatus]{
	Field: "status",
	Rules: []Rule[domain.ListingStatus]{
		{Name: "jsonld.availability", Apply: func(p *Page) (domain.ListingStatus, bool) {
			v, ok := p.product("offers.availability", "offers.0.availability")
			if !ok {
				return "", false
			}
			s := strings.ToLower(v.String())
			switch {
			case strings.Contains(s, "soldout"), strings.Contains(s, "outofstock"), strings.Contains(s, "discontinued"):
				return domain.StatusEnded, true
			case strings.Contains(s, "instock"), strings.Contains(s, "limitedavailability"):
				return domain.StatusActive, true
			}
			return "", false
		}},
		{Name: "keyword.scan", Apply: func(p *Page) (domain.ListingStatus, bool) {
			return classifyStatus(p.Text)
		}},
	},
}

var sourceIDRules = RuleList[string]{
	Field: "source_listing_id",
	Rules: []Rule[string]{
		{Name: "url.auction-path", Apply: func(p *Page) (string, bool) {
			return urlMatch(p, reAuctionPath)
		}},
		{Name: "url.query", Apply: func(p *Page) (string, bool) {
			if p.URL == nil {
				return "", false
			}
			q := p.URL.Query()
			for _, k := range idQueryKeys {
				if v := strings.TrimSpace(q.Get(k)); v != "" {
					return v, true
				}
			}
			return "", false
		}},
		{Name: "url.item-path", Apply: func(p *Page) (string, bool) {
			return urlMatch(p, reItemPath)
		}},
		{Name: "jsonld.sku", Apply: func(p *Page) (string, bool) {
			v, ok := p.product("sku", "productID", "mpn")
			return strings.TrimSpace(v.String()), ok
		}},
		{Name: "url.trailing-digits", Apply: func(p *Page) (string, bool) {
			return urlMatch(p, reTrailingID)
		}},
	},
	Valid: func(s string) bool { return s != "" },
}

var bidCountRules = RuleList[int]{
	Field: "bid_count",
	Rules: []Rule[int]{
		{Name: "dom.data-bids", Apply: func(p *Page) (int, bool) {
			if p.DOM == nil {
				return 0, false
			}
			v, ok := p.DOM.Find("[data-bid-count]").First().Attr("data-bid-count")
			if !ok {
				return 0, false
			}
			return parseCount(v)
		}},
		{Name: "regex.bids", Apply: regexCount(reBidCount)},
	},
}

var watchCountRules = RuleList[int]{
	Field: "watch_count",
	Rules: []Rule[int]{
		{Name: "dom.data-watch", Apply: func(p *Page) (int, bool) {
			if p.DOM == nil {
				return 0, false
			}
			v, ok := p.DOM.Find("[data-watch-count]").First().Attr("data-watch-count")
			if !ok {
				return 0, false
			}
			return parseCount(v)
		}},
		{Name: "regex.watchers", Apply: regexCount(reWatchCount)},
	},
}

// Keyword evidence. Phrases that contain a "new" term but mean used are
// checked first.
var (
	usedOverrides = []string{"未使用に近い", "新品同様", "like new", "almost new", "nearly new"}
	usedTerms     = []string{"中古", "ジャンク", "used", "pre-owned", "preowned", "second hand", "secondhand"}
	newTerms      = []string{"新品", "未使用", "未開封", "brand new", "new with tags", "unused", "sealed"}
	endedTerms    = []string{"このオークションは終了しています", "オークションは終了", "終了しました", "落札されました", "auction has ended", "bidding has ended", "listing has ended", "this item is sold", "sold out"}
	activeTerms   = []string{"残り時間", "入札する", "今すぐ落札", "place bid", "time left", "ends in", "buy it now"}
)

// classifyCondition returns evidence-based condition. Used evidence wins.
func classifyCondition(text string) (domain.Condition, bool) {
	s := strings.ToLower(text)
	if s == "" {
		return "", false
	}
	for _, t := range usedOverrides {
		if strings.Contains(s, t) {
			return domain.ConditionUsed, true
		}
	}
	withoutUnused := strings.ReplaceAll(s, "unused", "")
	for _, t := range usedTerms {
		if strings.Contains(withoutUnused, t) {
			return domain.ConditionUsed, true
		}
	}
	for _, t := range newTerms {
		if strings.Contains(s, t) {
			return domain.ConditionNew, true
		}
	}
	return "", false
}

// classifyStatus returns Ended over Active when both appear.
func classifyStatus(text string) (domain.ListingStatus, bool) {
	s := strings.ToLower(text)
	for _, t := range endedTerms {
		if strings.Contains(s, t) {
			return domain.StatusEnded, true
		}
	}
	for _, t := range activeTerms {
		if strings.Contains(s, t) {
			return domain.StatusActive, true
		}
	}
	return "", false
}

// parsePrice accepts a positive amount after removing grouping separators.
func parsePrice(s string) (int64, bool) {
	s = textnorm.Clean(s)
	s = strings.NewReplacer(",", "", " ", "", "円", "", "¥", "", "JPY", "", "jpy", "").Replace(s)
	// Prices never use exponent notation.
	if s == "" || strings.ContainsAny(s, "eE") {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return 0, false
	}
	d = d.Round(0)
	if !d.BigInt().IsInt64() {
		return 0, false
	}
	return d.IntPart(), true
}

// maxCount bounds bid and watch counts to what fits in an int on every platform.
var maxCount = decimal.NewFromInt(math.MaxInt32)

func parseCount(s string) (int, bool) {
	s = strings.ReplaceAll(textnorm.Clean(s), ",", "")
	if strings.ContainsAny(s, "eE") {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() || !d.IsInteger() || d.GreaterThan(maxCount) {
		return 0, false
	}
	return int(d.IntPart()), true
}

func regexPrice(re *regexp.Regexp) func(p *Page) (int64, bool) {
	return func(p *Page) (int64, bool) {
		for _, m := range re.FindAllStringSubmatch(p.Text, -1) {
			if v, ok := parsePrice(m[1]); ok {
				return v, true
			}
		}
		return 0, false
	}
}

func regexCount(re *regexp.Regexp) func(p *Page) (int, bool) {
	return func(p *Page) (int, bool) {
		m := re.FindStringSubmatch(p.Text)
		if m == nil {
			return 0, false
		}
		for _, g := range m[1:] {
			if g != "" {
				return parseCount(g)
			}
		}
		return 0, false
	}
}

func urlMatch(p *Page, re *regexp.Regexp) (string, bool) {
	if p.URL == nil {
		return "", false
	}
	m := re.FindStringSubmatch(p.URL.Path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func trimSiteSuffix(s string) string {
	return strings.TrimSpace(reSiteSuffix.ReplaceAllString(s, ""))
}

var crumbNoise = map[string]bool{"home": true, "top": true, "トップ": true, "ホーム": true}

func cleanCrumbs(in []string) []string {
	var out []string
	for _, c := range in {
		c = strings.Trim(textnorm.Clean(c), " >›»/")
		if c == "" || crumbNoise[strings.ToLower(c)] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// dedupe drops repeated URLs, keeping first-seen order.
func dedupe(groups [][]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, g := range groups {
		for _, u := range g {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}
