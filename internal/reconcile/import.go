package reconcile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/storage"
	"auction-ingest/internal/textnorm"
)

// ErrTooManyErrors aborts an import whose row errors exceed the ceiling.
var ErrTooManyErrors = errors.New("too many import errors")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// RowError is a failure isolated to one CSV row.
type RowError struct {
	Line      int              `json:"line"`
	RecordID  string           `json:"record_id,omitempty"`
	Operation domain.Operation `json:"operation,omitempty"`
	Message   string           `json:"message"`
	Err       error            `json:"-"`
}

func (e *RowError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("line %d (%s): %s", e.Line, e.RecordID, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ImportSummary reports every row outcome of one import.
type ImportSummary struct {
	RunID    string      `json:"run_id"`
	Rows     int         `json:"rows"`
	Inserted int         `json:"inserted"`
	Updated  int         `json:"updated"`
	Deleted  int         `json:"deleted"`
	Skipped  int         `json:"skipped"` // KEEP rows and writes that changed nothing
	Errors   []*RowError `json:"errors"`
}

// Import applies each row's operation. A bad header rejects the file before
// any write. Row failures are collected and processing continues until more
// than MaxErrors rows have failed.
func (r *Reconciler) Import(ctx context.Context, in io.Reader) (*ImportSummary, error) {
	summary := &ImportSummary{RunID: uuid.NewString(), Errors: []*RowError{}}
	log := r.log.WithField("run_id", summary.RunID)

	cr := csv.NewReader(stripBOM(in))
	cr.FieldsPerRecord = -1

	names, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrImportHeaderInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrImportHeaderInvalid, err)
	}
	h, err := parseHeader(names)
	if err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if err != nil && !errors.As(err, &perr) {
			return summary, fmt.Errorf("read csv: %w", err)
		}

		summary.Rows++
		if err != nil {
			r.fail(summary, &RowError{Line: perr.Line, Message: "malformed row", Err: err})
		} else {
			line, _ := cr.FieldPos(0)
			row := domain.TabularRow{Line: line, Values: h.values(record)}
			if rerr := r.applyRow(ctx, row, summary); rerr != nil {
				r.fail(summary, rerr)
			}
		}

		if len(summary.Errors) > r.maxErrors {
			r.record(summary)
			log.WithField("errors", len(summary.Errors)).Error("Import aborted")
			return summary, fmt.Errorf("%w: %d row errors exceed limit %d", ErrTooManyErrors, len(summary.Errors), r.maxErrors)
		}
	}

	r.record(summary)
	log.WithFields(logrus.Fields{
		"rows":     summary.Rows,
		"inserted": summary.Inserted,
		"updated":  summary.Updated,
		"deleted":  summary.Deleted,
		"skipped":  summary.Skipped,
		"errors":   len(summary.Errors),
	}).Info("Import completed")
	return summary, nil
}

func (r *Reconciler) fail(s *ImportSummary, e *RowError) {
	s.Errors = append(s.Errors, e)
	r.log.WithField("line", e.Line).Debug(e.Error())
}

func (r *Reconciler) record(s *ImportSummary) {
	r.metrics.RecordImport(s.Inserted, s.Updated, s.Deleted, s.Skipped, len(s.Errors))
}

// applyRow runs one directive and updates the counters.
func (r *Reconciler) applyRow(ctx context.Context, row domain.TabularRow, s *ImportSummary) *RowError {
	id := row.Get(ColRecordID)
	rowErr := func(op domain.Operation, err error) *RowError {
		return &RowError{Line: row.Line, RecordID: id, Operation: op, Message: err.Error(), Err: err}
	}

	if row.Get(ColOperation) == "" {
		return rowErr("", errors.New("operation required (use KEEP to skip a row)"))
	}
	op, ok := domain.ParseOperation(row.Get(ColOperation))
	if !ok {
		return rowErr("", fmt.Errorf("unknown operation %q", row.Get(ColOperation)))
	}

	switch {
	case op == domain.OpKeep:
		s.Skipped++
		return nil

	case op == domain.OpDelete:
		if id == "" {
			return rowErr(op, errors.New("record_id required for DELETE"))
		}
		if _, err := r.writer.Delete(ctx, id); err != nil {
			return rowErr(op, err)
		}
		s.Deleted++
		return nil

	case op.IsWrite():
		action, changed, err := r.write(ctx, row, op)
		if err != nil {
			return rowErr(op, err)
		}
		switch {
		case action == domain.ActionInsert:
			s.Inserted++
		case changed:
			s.Updated++
		default:
			s.Skipped++
		}
		return nil
	}
	return rowErr(op, fmt.Errorf("unsupported operation %q", op))
}

// write updates the addressed record, or resolves the row by its source and
// inserts it when nothing matches.
func (r *Reconciler) write(ctx context.Context, row domain.TabularRow, op domain.Operation) (domain.WriteAction, bool, error) {
	candidate, err := parseCandidate(row)
	if err != nil {
		return "", false, err
	}
	switch op {
	case domain.OpPrepare:
		candidate.Target.State = domain.PublishPrepared
	case domain.OpPublish:
		candidate.Target.State = domain.PublishPublished
	}

	var prior *domain.ListingRecord
	if id := row.Get(ColRecordID); id != "" {
		prior, err = r.store.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", false, fmt.Errorf("unknown record_id %s: %w", id, err)
			}
			return "", false, err
		}
		if candidate.SourceURL != "" && candidate.SourceURL != prior.SourceURL {
			return "", false, fmt.Errorf("%w: source_url does not match record", storage.ErrInvalidInput)
		}
	} else {
		if candidate.SourceURL == "" {
			return "", false, fmt.Errorf("%w: record_id or source_url required", storage.ErrInvalidInput)
		}
		match, err := r.resolver.Resolve(ctx, candidate)
		if err != nil {
			return "", false, fmt.Errorf("resolve: %w", err)
		}
		prior = match.Record
	}

	if prior == nil {
		if candidate.Title == "" {
			return "", false, fmt.Errorf("%w: title required for a new record", storage.ErrInvalidInput)
		}
		if !candidate.Status.IsValid() {
			candidate.Status = domain.StatusUnknown
		}
		r.normalizer.Apply(candidate)
		res, err := r.writer.Write(ctx, candidate, "")
		if err != nil {
			return "", false, err
		}
		return res.Action, true, nil
	}

	// Unchanged exported titles must not clear the placeholder marker, and
	// scraped prices only change through the pipeline.
	if candidate.Title == textnorm.Clean(prior.Title) {
		candidate.Title = ""
	}
	candidate.PriceMinor = nil
	res, err := r.writer.Write(ctx, candidate, prior.ID)
	if err != nil {
		return "", false, err
	}
	return res.Action, res.Changed, nil
}

// parseCandidate reads the editable columns. Empty cells leave the stored
// value untouched.
func parseCandidate(row domain.TabularRow) (*domain.ListingRecord, error) {
	c := &domain.ListingRecord{
		SourceURL: row.Get(ColSourceURL),
		Platform:  row.Get(ColPlatform),
		Title:     textnorm.Clean(row.Get(ColTitle)),
	}
	if c.SourceURL != "" {
		if u, err := url.Parse(c.SourceURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: invalid source_url %q", storage.ErrInvalidInput, c.SourceURL)
		}
	}
	if v := row.Get(ColSourceListingID); v != "" {
		c.SourceListingID = &v
	}

	var errs []error
	if v := row.Get(ColPriceMinor); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("invalid price_minor %q", v))
		} else {
			c.PriceMinor = &n
		}
	}
	if row.Has(ColImages) {
		c.Images = splitCell(row.Get(ColImages), ImageSeparator)
	}
	if v := row.Get(ColDescription); v != "" {
		c.Description = &v
	}
	if row.Has(ColCategoryPath) {
		c.CategoryPath = splitCell(row.Get(ColCategoryPath), strings.TrimSpace(CategorySeparator))
	}
	if v := row.Get(ColBrand); v != "" {
		c.Brand = &v
	}
	if v := row.Get(ColCondition); v != "" {
		switch strings.ToLower(v) {
		case "new":
			c.Condition = domain.ConditionNew
		case "used":
			c.Condition = domain.ConditionUsed
		default:
			errs = append(errs, fmt.Errorf("invalid condition %q", v))
		}
	}
	if v := row.Get(ColStatus); v != "" {
		switch strings.ToLower(v) {
		case "active":
			c.Status = domain.StatusActive
		case "ended":
			c.Status = domain.StatusEnded
		case "unknown":
			c.Status = domain.StatusUnknown
		default:
			errs = append(errs, fmt.Errorf("invalid status %q", v))
		}
	}

	if v := row.Get(ColTargetTitle); v != "" {
		c.Target.Title = &v
	}
	if v := row.Get(ColTargetCategory); v != "" {
		c.Target.CategoryID = &v
	}
	c.Target.Price = parseMoney(row, ColTargetPrice, &errs)
	c.Target.ShippingCost = parseMoney(row, ColShippingCost, &errs)
	if v := row.Get(ColTargetQuantity); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("invalid target_quantity %q", v))
		} else {
			c.Target.Quantity = &n
		}
	}
	if v := row.Get(ColPublishState); v != "" {
		state := domain.PublishState(strings.ToUpper(v))
		if !state.IsValid() {
			errs = append(errs, fmt.Errorf("invalid publish_state %q", v))
		} else {
			c.Target.State = state
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidInput, errors.Join(errs...))
	}
	return c, nil
}

func parseMoney(row domain.TabularRow, col string, errs *[]error) *decimal.Decimal {
	v := row.Get(col)
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		*errs = append(*errs, fmt.Errorf("invalid %s %q", col, v))
		return nil
	}
	d = d.Round(2)
	return &d
}

// stripBOM drops a leading UTF-8 byte order mark.
func stripBOM(in io.Reader) io.Reader {
	br := bufio.NewReader(in)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}
