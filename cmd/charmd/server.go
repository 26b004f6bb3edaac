// server.go - HTTP API for the attestation daemon
package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vericharm/internal/charm"
)

// Server wires the protocol components behind the REST API.
type Server struct {
	cfg      *Config
	engine   *charm.Engine
	query    *charm.QueryService
	detector *charm.Detector
	redactor *charm.Redactor
	trust    *charm.TrustDirectory
	beams    *charm.BeamManager
	metrics  *Metrics
	health   *HealthChecker
	limiter  *ActorRateLimiter
	logging  *Logging
	log      zerolog.Logger
}

// NewServer assembles the HTTP layer over the protocol components.
func NewServer(cfg *Config, engine *charm.Engine, query *charm.QueryService,
	detector *charm.Detector, redactor *charm.Redactor, trust *charm.TrustDirectory,
	beams *charm.BeamManager, metrics *Metrics, health *HealthChecker, logging *Logging) *Server {
	return &Server{
		cfg:      cfg,
		engine:   engine,
		query:    query,
		detector: detector,
		redactor: redactor,
		trust:    trust,
		beams:    beams,
		metrics:  metrics,
		health:   health,
		limiter:  NewActorRateLimiter(cfg.RateLimitTokens, cfg.RateLimitRefill, time.Second),
		logging:  logging,
		log:      logging.Log.With().Str("component", "http").Logger(),
	}
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.observe())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	v1.Use(s.rateLimit())
	{
		v1.POST("/claims", s.handleMint)
		v1.GET("/claims", s.handleQuery)
		v1.GET("/claims/:id", s.handleClaim)
		v1.GET("/claims/:id/history", s.handleHistory)
		v1.GET("/claims/:id/verify", s.handleVerify)
		v1.POST("/claims/:id/transfer", s.handleTransfer)
		v1.POST("/claims/:id/burn", s.handleBurn)
		v1.POST("/scan", s.handleScan)
		v1.GET("/trust", s.handleTrustList)
		v1.POST("/trust", s.handleTrustRegister)
		v1.DELETE("/trust/:address", s.handleTrustRevoke)
		v1.POST("/beams", s.handleBeamInitiate)
		v1.POST("/beams/:id/complete", s.handleBeamComplete)
	}
	return r
}

// requestID tags every request with a correlation id.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// observe records latency and access logs per request.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.HTTPDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
		s.log.Debug().Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).Str("route", route).
			Int("status", status).Dur("elapsed", elapsed).Msg("request")
	}
}

// rateLimit buckets requests per actor (X-Actor header, falling back to
// client IP for anonymous verification requests).
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetHeader("X-Actor")
		if actor == "" {
			actor = c.ClientIP()
		}
		if !s.limiter.Allow(actor) {
			s.metrics.RateLimitedTotal.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// fail maps a protocol error to an HTTP status and records it.
func (s *Server) fail(c *gin.Context, err error) {
	kind := charm.Kind(err)
	s.metrics.ErrorsTotal.WithLabelValues(string(kind)).Inc()

	status := http.StatusInternalServerError
	switch kind {
	case charm.KindValidation:
		status = http.StatusBadRequest
		if errors.Is(err, charm.ErrUnknownClaim) {
			status = http.StatusNotFound
		}
	case charm.KindAuthorization:
		status = http.StatusForbidden
	case charm.KindStateConflict:
		status = http.StatusConflict
	case charm.KindIntegrity:
		status = http.StatusUnprocessableEntity
	case charm.KindExternal:
		status = http.StatusBadGateway
	}

	s.log.Warn().Err(err).Str("request_id", c.GetString("request_id")).
		Str("kind", string(kind)).Msg("operation rejected")
	c.JSON(status, gin.H{"error": err.Error(), "kind": string(kind)})
}

func (s *Server) handleHealth(c *gin.Context) {
	health := s.health.CheckHealth()
	status := http.StatusOK
	if health.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

type mintRequest struct {
	Product            charm.ProductData `json:"product"`
	Issuer             string            `json:"issuer"`
	WarrantyPeriodDays int               `json:"warranty_period_days"`
}

func (s *Server) handleMint(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claim, err := s.engine.Mint(c.Request.Context(), req.Product, charm.Address(req.Issuer), req.WarrantyPeriodDays)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.metrics.MintsTotal.Inc()
	s.logging.Audit("mint", map[string]interface{}{
		"claim_id": claim.ClaimID,
		"issuer":   req.Issuer,
		"serial":   req.Product.SerialNumber,
	})
	c.JSON(http.StatusCreated, claim)
}

type transferRequest struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Proof string `json:"proof,omitempty"`
}

func (s *Server) handleTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claimID := c.Param("id")
	err := s.engine.Transfer(c.Request.Context(), claimID, charm.Address(req.From), charm.Address(req.To), []byte(req.Proof))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.metrics.TransfersTotal.Inc()
	s.logging.Audit("transfer", map[string]interface{}{
		"claim_id": claimID, "from": req.From, "to": req.To,
	})
	c.JSON(http.StatusOK, gin.H{"claim_id": claimID, "holder": req.To})
}

func (s *Server) handleVerify(c *gin.Context) {
	method := c.DefaultQuery("method", "api")
	verdict, err := s.engine.Verify(c.Request.Context(), c.Param("id"), method)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.metrics.VerificationsTotal.WithLabelValues(strconv.FormatBool(verdict.IsAuthentic)).Inc()
	c.JSON(http.StatusOK, verdict)
}

type burnRequest struct {
	Holder string           `json:"holder"`
	Reason charm.BurnReason `json:"reason"`
}

func (s *Server) handleBurn(c *gin.Context) {
	var req burnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claimID := c.Param("id")
	receipt, err := s.engine.Burn(c.Request.Context(), claimID, charm.Address(req.Holder), req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.metrics.BurnsTotal.WithLabelValues(string(receipt.Reason)).Inc()
	s.logging.Audit("burn", map[string]interface{}{
		"claim_id": claimID, "holder": req.Holder, "reason": string(receipt.Reason),
	})
	c.JSON(http.StatusOK, receipt)
}

func (s *Server) handleClaim(c *gin.Context) {
	claim, err := s.engine.Ledger().Claim(c.Param("id"))
	if err != nil {
		s.fail(c, charm.ErrUnknownClaim)
		return
	}
	c.JSON(http.StatusOK, claim)
}

// handleHistory serves the event history as a disclosure view. Redaction
// is on by default; ?proof=true additionally requests the consistency
// commitment.
func (s *Server) handleHistory(c *gin.Context) {
	claimID := c.Param("id")
	_, events, err := s.engine.Ledger().ClaimWithEvents(claimID)
	if err != nil {
		s.fail(c, charm.ErrUnknownClaim)
		return
	}

	policy := charm.DefaultPolicy()
	policy.RequireProof = c.Query("proof") == "true"

	start := time.Now()
	view, err := s.redactor.Redact(c.Request.Context(), claimID, events, policy)
	if err != nil {
		s.fail(c, err)
		return
	}
	if policy.RequireProof && view.Commitment != nil {
		s.metrics.ProofDuration.Observe(time.Since(start).Seconds())
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleQuery(c *gin.Context) {
	filter := charm.ClaimFilter{
		Issuer:   charm.Address(c.Query("issuer")),
		Category: c.Query("category"),
		Holder:   charm.Address(c.Query("holder")),
		State:    charm.ClaimState(c.Query("state")),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.fail(c, &charm.ProtocolError{Kind: charm.KindValidation, Op: "query", Detail: "limit must be an integer"})
			return
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.fail(c, &charm.ProtocolError{Kind: charm.KindValidation, Op: "query", Detail: "offset must be an integer"})
			return
		}
		filter.Offset = n
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.fail(c, &charm.ProtocolError{Kind: charm.KindValidation, Op: "query", Detail: "from must be an RFC 3339 timestamp"})
			return
		}
		filter.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.fail(c, &charm.ProtocolError{Kind: charm.KindValidation, Op: "query", Detail: "to must be an RFC 3339 timestamp"})
			return
		}
		filter.To = t
	}

	claims, err := s.query.QueryClaims(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claims": claims, "count": len(claims)})
}

func (s *Server) handleScan(c *gin.Context) {
	var criteria charm.ScanCriteria
	if err := c.ShouldBindJSON(&criteria); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reports, err := s.detector.Scan(c.Request.Context(), criteria)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.metrics.ScansTotal.Inc()
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

func (s *Server) handleTrustList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": s.trust.Snapshot()})
}

func (s *Server) handleTrustRegister(c *gin.Context) {
	var entry charm.TrustEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if entry.Address == "" || entry.Role == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address and role are required"})
		return
	}
	s.trust.Register(entry)
	s.logging.Audit("trust_register", map[string]interface{}{
		"address": string(entry.Address), "role": string(entry.Role),
		"category": entry.Category, "trusted": entry.Trusted,
	})
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleTrustRevoke(c *gin.Context) {
	addr := charm.Address(c.Param("address"))
	s.trust.Revoke(addr)
	s.logging.Audit("trust_revoke", map[string]interface{}{"address": string(addr)})
	c.JSON(http.StatusOK, gin.H{"address": string(addr), "trusted": false})
}

type beamRequest struct {
	ClaimID     string `json:"claim_id"`
	Holder      string `json:"holder"`
	SourceChain string `json:"source_chain"`
	TargetChain string `json:"target_chain"`
}

func (s *Server) handleBeamInitiate(c *gin.Context) {
	var req beamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.beams.InitiateBeam(req.ClaimID, charm.Address(req.Holder), req.SourceChain, req.TargetChain)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

type beamCompleteRequest struct {
	NewHolder string `json:"new_holder"`
	Proof     string `json:"proof,omitempty"`
}

func (s *Server) handleBeamComplete(c *gin.Context) {
	var req beamCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	beamID := c.Param("id")
	if err := s.beams.CompleteBeam(c.Request.Context(), beamID, charm.Address(req.NewHolder), []byte(req.Proof)); err != nil {
		s.fail(c, err)
		return
	}
	s.metrics.TransfersTotal.Inc()
	c.JSON(http.StatusOK, gin.H{"beam_id": beamID, "status": string(charm.BeamCompleted)})
}
