// Package api serves the operator HTTP API over the ingestion engine.
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"auction-ingest/internal/events"
	"auction-ingest/internal/fetcher"
	"auction-ingest/internal/ingestion"
	"auction-ingest/internal/observability"
	"auction-ingest/internal/orchestrator"
	"auction-ingest/internal/reconcile"
	"auction-ingest/internal/storage"
	"auction-ingest/internal/upsert"
)

// MaxImportBytes bounds an uploaded CSV.
const MaxImportBytes = 32 << 20

// Options for creating a Handler.
type Options struct {
	Store        storage.ListingStore       // required
	Observations storage.ObservationStore   // history endpoint returns 404 when nil
	Writer       *upsert.Writer             // required
	Orchestrator *orchestrator.Orchestrator // required
	Processor    ingestion.Processor        // single-URL re-scrape, required
	Reconciler   *reconcile.Reconciler      // required
	Logger       logrus.FieldLogger
}

// Handler holds the dependencies of every route.
type Handler struct {
	store        storage.ListingStore
	observations storage.ObservationStore
	writer       *upsert.Writer
	orchestrator *orchestrator.Orchestrator
	processor    ingestion.Processor
	reconciler   *reconcile.Reconciler
	log          logrus.FieldLogger
}

// New creates a new Handler.
func New(opts Options) (*Handler, error) {
	if opts.Store == nil || opts.Writer == nil || opts.Orchestrator == nil || opts.Processor == nil || opts.Reconciler == nil {
		return nil, errors.New("api: store, writer, orchestrator, processor and reconciler are required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Handler{
		store:        opts.Store,
		observations: opts.Observations,
		writer:       opts.Writer,
		orchestrator: opts.Orchestrator,
		processor:    opts.Processor,
		reconciler:   opts.Reconciler,
		log:          opts.Logger.WithField("component", "api"),
	}, nil
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(observability.Handler()))
	h.RegisterRoutes(r.Group("/api"))
	return r
}

// RegisterRoutes registers the API routes on rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/ingest", h.Ingest)

	rg.GET("/listings", h.ListListings)
	rg.GET("/listings/:id", h.GetListing)
	rg.GET("/listings/:id/history", h.GetHistory)
	rg.DELETE("/listings/:id", h.DeleteListing)
	rg.POST("/listings/:id/rescrape", h.Rescrape)

	rg.GET("/export.csv", h.Export)
	rg.POST("/import", h.Import)

	rg.GET("/duplicates", h.FindDuplicates)
	rg.POST("/duplicates/merge", h.MergeDuplicates)
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	}
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// POST /api/ingest {"urls": [...]}
func (h *Handler) Ingest(c *gin.Context) {
	var req events.RescrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.URLs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "urls is required"})
		return
	}

	result, err := h.orchestrator.Run(c.Request.Context(), req.URLs)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GET /api/listings?status=&platform=&publish_state=&updated_since=
func (h *Handler) ListListings(c *gin.Context) {
	filter, ok := h.bindFilter(c)
	if !ok {
		return
	}
	records, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.storageError(c, err)
		return
	}

	fees := h.reconciler.Fees()
	views := make([]ListingView, 0, len(records))
	for _, r := range records {
		views = append(views, newListingView(r, fees))
	}
	c.JSON(http.StatusOK, views)
}

// GET /api/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	rec, err := h.store.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, newListingView(rec, h.reconciler.Fees()))
}

// GET /api/listings/:id/history
func (h *Handler) GetHistory(c *gin.Context) {
	if h.observations == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "price history disabled"})
		return
	}
	id := c.Param("id")
	if _, err := h.store.GetByID(c.Request.Context(), id); err != nil {
		h.storageError(c, err)
		return
	}
	obs, err := h.observations.GetByListingID(c.Request.Context(), id)
	if err != nil {
		h.storageError(c, err)
		return
	}
	views := make([]ObservationView, 0, len(obs))
	for _, o := range obs {
		views = append(views, newObservationView(o))
	}
	c.JSON(http.StatusOK, views)
}

// DELETE /api/listings/:id
func (h *Handler) DeleteListing(c *gin.Context) {
	res, err := h.writer.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": res.RecordID})
}

// POST /api/listings/:id/rescrape
func (h *Handler) Rescrape(c *gin.Context) {
	rec, err := h.store.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storageError(c, err)
		return
	}
	res := h.processor.Process(c.Request.Context(), rec.SourceURL)
	if !res.OK() {
		status := http.StatusBadGateway
		if errors.Is(res.Err, fetcher.ErrInvalidTarget) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/export.csv
func (h *Handler) Export(c *gin.Context) {
	filter, ok := h.bindFilter(c)
	if !ok {
		return
	}
	name := fmt.Sprintf("listings-%s.csv", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Status(http.StatusOK)

	if _, err := h.reconciler.Export(c.Request.Context(), filter, c.Writer); err != nil {
		// Headers are already sent; the truncated body is all we can signal.
		h.log.WithError(err).Error("Export failed")
		_ = c.Error(err)
	}
}

// POST /api/import accepts a multipart "file" field or a raw text/csv body.
func (h *Handler) Import(c *gin.Context) {
	var in io.Reader = http.MaxBytesReader(c.Writer, c.Request.Body, MaxImportBytes)
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer f.Close()
		in = f
	}

	summary, err := h.reconciler.Import(c.Request.Context(), in)
	switch {
	case errors.Is(err, reconcile.ErrImportHeaderInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, reconcile.ErrTooManyErrors):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "summary": summary})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": summary})
	default:
		c.JSON(http.StatusOK, summary)
	}
}

// GET /api/duplicates
func (h *Handler) FindDuplicates(c *gin.Context) {
	report, err := h.reconciler.FindDuplicates(c.Request.Context())
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// POST /api/duplicates/merge
func (h *Handler) MergeDuplicates(c *gin.Context) {
	summary, err := h.reconciler.MergeDuplicates(c.Request.Context())
	if err != nil {
		h.storageError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) bindFilter(c *gin.Context) (storage.ListingFilter, bool) {
	filter, err := storage.ParseFilter(storage.FilterParams{
		Status:       c.Query("status"),
		Platform:     c.Query("platform"),
		PublishState: c.Query("publish_state"),
		UpdatedSince: c.Query("updated_since"),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return storage.ListingFilter{}, false
	}
	return filter, true
}

// storageError maps storage sentinels to status codes.
func (h *Handler) storageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
	case errors.Is(err, storage.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrVersionConflict), errors.Is(err, storage.ErrDuplicateKey):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.log.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
