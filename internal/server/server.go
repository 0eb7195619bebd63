// Package server exposes the public lookup endpoint behind the admission
// gate, plus health, metrics and admin review routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/agenticpress/homevalue-gate/internal/attom"
	"github.com/agenticpress/homevalue-gate/internal/clientip"
	"github.com/agenticpress/homevalue-gate/internal/config"
	"github.com/agenticpress/homevalue-gate/internal/events"
	"github.com/agenticpress/homevalue-gate/internal/gate"
	"github.com/agenticpress/homevalue-gate/internal/lookups"
	"github.com/agenticpress/homevalue-gate/internal/metrics"
	"github.com/agenticpress/homevalue-gate/internal/verify"
)

const janitorInterval = time.Hour

// Valuer is the slice of the ATTOM client the lookup handler needs.
type Valuer interface {
	Lookup(ctx context.Context, address1, address2 string) (*attom.Property, error)
}

// Summarizer generates the optional AI summary for a property record.
type Summarizer interface {
	Generate(ctx context.Context, p *attom.Property) (string, error)
}

// Server wires the gate in front of the valuation flow.
type Server struct {
	cfg        *config.Config
	gate       *gate.Gate
	valuer     Valuer
	summarizer Summarizer // nil when AI mode is disabled
	records    *lookups.Store
	eventLog   *events.BoltLog
	ready      func(ctx context.Context) error
	httpSrv    *http.Server
}

// New builds the server and its routes. ready is consulted by /readyz;
// pass nil when there is no external store to probe.
func New(
	cfg *config.Config,
	g *gate.Gate,
	valuer Valuer,
	summarizer Summarizer,
	records *lookups.Store,
	eventLog *events.BoltLog,
	ready func(ctx context.Context) error,
) *Server {
	s := &Server{
		cfg:        cfg,
		gate:       g,
		valuer:     valuer,
		summarizer: summarizer,
		records:    records,
		eventLog:   eventLog,
		ready:      ready,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/api/v1/lookup", s.handleLookup)
	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/readyz", s.handleReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := router.Group("/api/v1/admin", s.adminAuth)
	admin.GET("/security-events", s.handleSecurityEvents)
	admin.GET("/lookups", s.handleLookups)

	s.httpSrv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.runJanitor(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

// handleLookup is the public, unauthenticated valuation endpoint. The gate's
// decision is final: a denial is returned verbatim and the valuation API is
// never called for a denied request.
func (s *Server) handleLookup(c *gin.Context) {
	id := clientip.FromRequest(c.Request)

	formTS, _ := strconv.ParseInt(c.PostForm("form_timestamp"), 10, 64)
	req := &verify.Request{
		Identity:      id,
		Honeypot:      c.PostForm("website"),
		FormTimestamp: formTS,
		CaptchaToken:  c.PostForm("g-recaptcha-response"),
	}

	decision := s.gate.Admit(c.Request.Context(), req)
	if !decision.Allow {
		c.JSON(decision.HTTPStatus, gin.H{"success": false, "message": decision.Message})
		return
	}

	address1 := strings.TrimSpace(c.PostForm("address1"))
	address2 := strings.TrimSpace(c.PostForm("address2"))
	if address1 == "" || address2 == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Please select a valid address."})
		return
	}

	property, err := s.valuer.Lookup(c.Request.Context(), address1, address2)
	if err != nil {
		if errors.Is(err, attom.ErrNoProperty) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "No property record found for this address."})
			return
		}
		log.Error().Err(err).Str("ip", id.IP).Msg("valuation lookup failed")
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": "Could not retrieve property data for this address."})
		return
	}
	metrics.LookupsCompleted.Inc()

	aiSummary := ""
	if s.summarizer != nil {
		if aiSummary, err = s.summarizer.Generate(c.Request.Context(), property); err != nil {
			// The summary is decorative; the lookup result stands on its own.
			log.Warn().Err(err).Msg("ai summary failed")
			aiSummary = ""
		}
	}

	lookupID, err := s.records.Insert(lookups.NewRecord(id.IP, property, aiSummary))
	if err != nil {
		log.Warn().Err(err).Msg("lookup record insert failed")
	}

	details := gin.H{
		"estimated_value":  dollarsOrNA(property.AVMValue),
		"confidence_score": percentOrNA(property.AVMConfidence),
		"avm_range":        rangeOrNA(property.AVMLow, property.AVMHigh),
		"year_built":       intOrNA(property.YearBuilt),
		"bedrooms":         floatOrNA(property.Bedrooms),
		"bathrooms":        floatOrNA(property.Bathrooms),
		"lot_size_acres":   floatOrNA(property.LotSizeAcres),
		"property_type":    strOrNA(property.PropertyType),
	}
	if aiSummary != "" {
		details["ai_summary"] = aiSummary
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"details": details, "lookup_id": lookupID},
	})
}

func (s *Server) handleReady(c *gin.Context) {
	if s.ready != nil {
		if err := s.ready(c.Request.Context()); err != nil {
			c.String(http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	c.String(http.StatusOK, "ok")
}

// adminAuth guards the review endpoints with the configured bearer key.
// With no key configured the endpoints are disabled outright.
func (s *Server) adminAuth(c *gin.Context) {
	if s.cfg.AdminAPIKey == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "message": "admin API disabled"})
		return
	}
	auth := c.GetHeader("Authorization")
	if auth != "Bearer "+s.cfg.AdminAPIKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) handleSecurityEvents(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 100)
	evs, err := s.eventLog.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": evs})
}

func (s *Server) handleLookups(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 100)
	recs, err := s.records.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": recs})
}

// runJanitor periodically prunes security events past the retention window
// and refreshes the event log size gauge. It never touches admission state.
func (s *Server) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.cfg.EventRetention)
			removed, err := s.eventLog.Prune(cutoff)
			if err != nil {
				log.Warn().Err(err).Msg("janitor: event prune failed")
			} else if removed > 0 {
				log.Debug().Int("removed", removed).Msg("janitor: pruned events")
			}
			updateEventLogSize(s.eventLog)
		}
	}
}

func parseLimit(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 1000 {
		return fallback
	}
	return n
}
