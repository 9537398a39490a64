// Package rest provides the Gin-based admin API server.
package rest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/directory"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/identity"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/ledger"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/metrics"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/revocation"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/settlement"
	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/trust"
)

// Server is the admin API server.
type Server struct {
	engine   *gin.Engine
	auth     *trust.Authority
	dir      *directory.Directory
	bus      *revocation.Bus
	pipeline *settlement.Pipeline
	settler  *settlement.Settler
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a Server. m may be nil, in which case /metrics is not served.
func New(auth *trust.Authority, dir *directory.Directory, bus *revocation.Bus,
	pipeline *settlement.Pipeline, settler *settlement.Settler, m *metrics.Metrics, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		auth:     auth,
		dir:      dir,
		bus:      bus,
		pipeline: pipeline,
		settler:  settler,
		metrics:  m,
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Admin API listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// registerRoutes sets up the /eden context path.
func (s *Server) registerRoutes() {
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	eden := s.engine.Group("/eden")

	identities := eden.Group("/identities")
	{
		identities.POST("", s.enroll)
		identities.GET("/:id", s.getIdentity)
	}

	certificates := eden.Group("/certificates")
	{
		certificates.POST("", s.issue)
		certificates.GET("", s.listCertificates)
		certificates.GET("/:subject", s.getCertificate)
	}
	eden.GET("/validate/:subject", s.validate)

	eden.POST("/revocations", s.revoke)
	eden.GET("/revocations", s.listRevocations)
	eden.POST("/reinstatements", s.reinstate)

	settlements := eden.Group("/settlements")
	{
		settlements.POST("", s.enqueue)
		settlements.GET("/:entryId", s.getEntry)
	}
	eden.GET("/balances", s.balances)

	eden.PUT("/directory/:provider", s.assign)
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var authErr *trust.AuthorityError
	var intErr *trust.IntegrityError
	switch {
	case errors.As(err, &authErr):
		return http.StatusForbidden
	case errors.As(err, &intErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, trust.ErrUnknownIdentity), errors.Is(err, ledger.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, trust.ErrHardRevoked), errors.Is(err, trust.ErrNotRevoked), errors.Is(err, ledger.ErrDuplicateTx):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

// --- Identity handlers ---

func (s *Server) enroll(c *gin.Context) {
	var body enrollRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, err := identity.ParseKind(strings.ToUpper(body.Kind))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.auth.Enroll(kind, body.ID)
	if err != nil {
		fail(c, err)
		return
	}
	en, err := s.auth.Attest(id.UUID)
	if err != nil {
		fail(c, err)
		return
	}
	if _, err := s.bus.PublishEnrollment(c.Request.Context(), en); err != nil {
		s.logger.Error("Identity enrolled but not published", zap.String("uuid", id.UUID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "identity": newIdentityView(id, s.auth.Registry().Status(id.UUID))})
		return
	}
	c.JSON(http.StatusCreated, newIdentityView(id, s.auth.Registry().Status(id.UUID)))
}

func (s *Server) getIdentity(c *gin.Context) {
	reg := s.auth.Registry()
	id, ok := reg.Identity(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": trust.ErrUnknownIdentity.Error()})
		return
	}
	c.JSON(http.StatusOK, newIdentityView(id, reg.Status(id.UUID)))
}

// --- Certificate handlers ---

func (s *Server) issue(c *gin.Context) {
	var body issueRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cert, err := s.auth.IssueCertificate(body.Issuer, body.Subject, body.Capabilities...)
	if err != nil {
		fail(c, err)
		return
	}
	if _, err := s.bus.PublishCertificate(c.Request.Context(), cert); err != nil {
		s.logger.Error("Certificate signed but not published", zap.String("subject", cert.SubjectUUID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, newCertificateView(cert, s.auth.Validate(cert.SubjectUUID)))
}

func (s *Server) listCertificates(c *gin.Context) {
	certs := s.auth.Registry().Certificates()
	out := make([]certificateView, 0, len(certs))
	for _, cert := range certs {
		out = append(out, newCertificateView(cert, s.auth.Validate(cert.SubjectUUID)))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getCertificate(c *gin.Context) {
	cert, ok := s.auth.Registry().Certificate(c.Param("subject"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no certificate"})
		return
	}
	c.JSON(http.StatusOK, newCertificateView(cert, s.auth.Validate(cert.SubjectUUID)))
}

func (s *Server) validate(c *gin.Context) {
	subject := c.Param("subject")
	c.JSON(http.StatusOK, gin.H{"subject": subject, "valid": s.auth.Validate(subject)})
}

// --- Revocation handlers ---

func (s *Server) revoke(c *gin.Context) {
	var body revokeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var opts []trust.RevokeOption
	if body.EffectiveAt != nil {
		opts = append(opts, trust.WithEffectiveAt(*body.EffectiveAt))
	}
	if len(body.Metadata) > 0 {
		opts = append(opts, trust.WithMetadata(body.Metadata))
	}
	rev, err := s.auth.Revoke(body.Issuer, body.Subject, body.Type, body.Severity, body.Reason, opts...)
	if err != nil {
		fail(c, err)
		return
	}
	msgID, err := s.bus.Publish(c.Request.Context(), rev)
	if err != nil {
		s.logger.Error("Revocation signed but not published", zap.String("subject", rev.RevokedUUID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "revocation": newRevocationView(rev)})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"messageId": msgID, "revocation": newRevocationView(rev)})
}

func (s *Server) listRevocations(c *gin.Context) {
	revs := s.auth.Registry().Revocations()
	out := make([]revocationView, 0, len(revs))
	for _, r := range revs {
		out = append(out, newRevocationView(r))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) reinstate(c *gin.Context) {
	var body reinstateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ri, err := s.auth.Reinstate(body.Issuer, body.Subject)
	if err != nil {
		fail(c, err)
		return
	}
	msgID, err := s.bus.PublishReinstatement(c.Request.Context(), ri)
	if err != nil {
		s.logger.Error("Reinstatement signed but not published", zap.String("subject", ri.SubjectUUID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"messageId": msgID, "subject": ri.SubjectUUID})
}

// --- Settlement handlers ---

func (s *Server) enqueue(c *gin.Context) {
	var body settlementRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Snapshot.TxID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "snapshot.txId is required"})
		return
	}
	entry := ledger.NewEntry(body.Snapshot, body.PayerID, body.ProviderUUID, body.ServiceType, body.UsageFee, body.UsageTax)
	entry.CashierID = body.CashierID
	entry.BookingDetails = body.Booking

	msgID, err := s.pipeline.Enqueue(c.Request.Context(), entry, body.Snapshot)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"entryId": entry.EntryID, "messageId": msgID})
}

func (s *Server) getEntry(c *gin.Context) {
	e, err := s.settler.Book().Get(c.Param("entryId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) balances(c *gin.Context) {
	c.JSON(http.StatusOK, s.settler.Balances())
}

// --- Directory handlers ---

func (s *Server) assign(c *gin.Context) {
	var body assignRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	provider := c.Param("provider")
	s.dir.Assign(provider, body.NodeID)
	c.JSON(http.StatusOK, gin.H{"provider": provider, "nodeId": body.NodeID})
}
