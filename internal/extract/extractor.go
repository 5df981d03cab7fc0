package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/textnorm"
)

// DefaultTitleMinLen rejects trivial title matches.
const DefaultTitleMinLen = 5

// ErrExtractionAmbiguous marks a required field that no rule matched. It is
// reported, never returned from Extract.
var ErrExtractionAmbiguous = errors.New("extraction ambiguous")

// Report records which rule produced each field.
type Report struct {
	Matched   map[string]string // field -> winning rule name
	Ambiguous []string          // required fields that fell back to defaults
	Panicked  bool              // extraction recovered from a panic
}

// Err returns ErrExtractionAmbiguous wrapped with the fallback fields, or nil.
func (r Report) Err() error {
	if len(r.Ambiguous) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrExtractionAmbiguous, strings.Join(r.Ambiguous, ", "))
}

// Options configures an Extractor.
type Options struct {
	Platform    string // display name; empty uses the URL host
	TitleMinLen int
	Now         func() time.Time
	Logger      logrus.FieldLogger
}

// Extractor applies the field rule lists to raw content.
type Extractor struct {
	platform string
	titles   RuleList[string]
	now      func() time.Time
	log      logrus.FieldLogger
}

// New creates a new Extractor.
func New(opts Options) *Extractor {
	minLen := opts.TitleMinLen
	if minLen <= 0 {
		minLen = DefaultTitleMinLen
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Extractor{
		platform: opts.Platform,
		titles: RuleList[string]{
			Field: "title",
			Rules: titleRules,
			Valid: func(s string) bool { return textnorm.Len(s) >= minLen },
		},
		now: opts.Now,
		log: opts.Logger.WithField("component", "extractor"),
	}
}

// Extract never fails: the result always carries sourceURL and a title.
func (e *Extractor) Extract(raw, sourceURL string) *domain.ListingRecord {
	r, _ := e.ExtractWithReport(raw, sourceURL)
	return r
}

// ExtractWithReport is Extract plus the per-field rule report.
func (e *Extractor) ExtractWithReport(raw, sourceURL string) (rec *domain.ListingRecord, rep Report) {
	rep.Matched = make(map[string]string)
	rec = &domain.ListingRecord{
		SourceURL:     sourceURL,
		Platform:      e.platformFor(sourceURL),
		Condition:     domain.ConditionUsed,
		Status:        domain.StatusUnknown,
		LastScrapedAt: e.now().UnixMilli(),
	}

	defer func() {
		if v := recover(); v != nil {
			e.log.WithFields(logrus.Fields{"url": sourceURL, "panic": v}).Error("extraction panicked, using placeholder")
			rec = &domain.ListingRecord{
				SourceURL:     sourceURL,
				Platform:      e.platformFor(sourceURL),
				Condition:     domain.ConditionUsed,
				Status:        domain.StatusUnknown,
				LastScrapedAt: rec.LastScrapedAt,
			}
			e.placeholderTitle(rec)
			rep = Report{Matched: map[string]string{}, Ambiguous: []string{"title", "price"}, Panicked: true}
		}
	}()

	p := NewPage(raw, sourceURL)

	if id, rule, ok := sourceIDRules.First(p); ok {
		rec.SourceListingID = &id
		rep.Matched[sourceIDRules.Field] = rule
	}

	if title, rule, ok := e.titles.First(p); ok {
		rec.Title = title
		rep.Matched[e.titles.Field] = rule
	} else {
		e.placeholderTitle(rec)
		rep.Ambiguous = append(rep.Ambiguous, e.titles.Field)
	}

	if price, rule, ok := priceRules.First(p); ok {
		rec.PriceMinor = &price
		rep.Matched[priceRules.Field] = rule
	} else {
		rep.Ambiguous = append(rep.Ambiguous, priceRules.Field)
	}

	if groups, rules := imageRules.All(p); len(groups) > 0 {
		rec.Images = dedupe(groups)
		rep.Matched[imageRules.Field] = strings.Join(rules, ",")
	}

	if desc, rule, ok := descriptionRules.First(p); ok {
		rec.Description = &desc
		rep.Matched[descriptionRules.Field] = rule
	}

	if path, rule, ok := categoryRules.First(p); ok {
		rec.CategoryPath = path
		rep.Matched[categoryRules.Field] = rule
	}

	if brand, rule, ok := brandRules.First(p); ok {
		rec.Brand = &brand
		rep.Matched[brandRules.Field] = rule
	}

	if cond, rule, ok := conditionRules.First(p); ok {
		rec.Condition = cond
		rep.Matched[conditionRules.Field] = rule
	}

	if status, rule, ok := statusRules.First(p); ok {
		rec.Status = status
		rep.Matched[statusRules.Field] = rule
	}

	if n, rule, ok := bidCountRules.First(p); ok {
		rec.BidCount = &n
		rep.Matched[bidCountRules.Field] = rule
	}

	if n, rule, ok := watchCountRules.First(p); ok {
		rec.WatchCount = &n
		rep.Matched[watchCountRules.Field] = rule
	}

	return rec, rep
}

// placeholderTitle sets "<Platform> item - <id or unknown>".
func (e *Extractor) placeholderTitle(r *domain.ListingRecord) {
	id := "unknown"
	if r.SourceListingID != nil && *r.SourceListingID != "" {
		id = *r.SourceListingID
	}
	r.Title = fmt.Sprintf("%s item - %s", r.Platform, id)
	r.PlaceholderTitle = true
}

func (e *Extractor) platformFor(sourceURL string) string {
	if e.platform != "" {
		return e.platform
	}
	if u, err := url.Parse(sourceURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "Unknown"
}
