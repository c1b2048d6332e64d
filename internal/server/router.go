package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/monolith/backend/internal/monolith"
	"github.com/MarcoPoloResearchLab/monolith/backend/internal/payments"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	snapshotRefreshTimeout   = 5 * time.Second
)

var (
	errMissingMonolithService = errors.New("monolith service dependency required")
	errIncompletePayments     = errors.New("payment verifier and processor must be configured together")
)

// MonolithService is the settlement engine surface exposed over HTTP.
type MonolithService interface {
	LandingSnapshot(ctx context.Context) (monolith.LandingSnapshot, error)
	AcquireSolo(ctx context.Context, input monolith.AcquireSoloInput) (monolith.AcquireSoloResult, error)
	InitializeSyndicate(ctx context.Context, input monolith.InitializeSyndicateInput) (monolith.SyndicateResult, error)
	ContributeToSyndicate(ctx context.Context, input monolith.ContributeInput) (monolith.SyndicateResult, error)
	ListContributors(ctx context.Context, syndicateID string) ([]monolith.SyndicateContributor, error)
}

type PaymentVerifier interface {
	VerifyRequest(r *http.Request) (payments.Event, error)
}

type PaymentProcessor interface {
	Process(ctx context.Context, event payments.Event) (payments.Outcome, error)
}

type Dependencies struct {
	Service          MonolithService
	PaymentVerifier  PaymentVerifier
	PaymentProcessor PaymentProcessor
	Realtime         *RealtimeDispatcher
	Logger           *zap.Logger
	AllowedOrigins   []string
	EnablePprof      bool
	// HeartbeatInterval spaces keep-alive events on idle streams.
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Service == nil {
		return nil, errMissingMonolithService
	}
	if (deps.PaymentVerifier == nil) != (deps.PaymentProcessor == nil) {
		return nil, errIncompletePayments
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	if deps.EnablePprof {
		pprof.Register(router)
	}

	handler := &httpHandler{
		service:           deps.Service,
		verifier:          deps.PaymentVerifier,
		processor:         deps.PaymentProcessor,
		realtime:          realtime,
		logger:            logger,
		heartbeatInterval: heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/monolith/snapshot", handler.handleSnapshot)
	router.GET("/monolith/stream", handler.handleStream)
	router.POST("/monolith/acquire-solo", handler.handleAcquireSolo)
	router.POST("/syndicates/initialize", handler.handleInitializeSyndicate)
	router.POST("/syndicates/contribute", handler.handleContribute)
	router.GET("/syndicates/contributors", handler.handleContributors)
	if handler.verifier != nil {
		router.POST("/payments/events", handler.handlePaymentEvent)
	}

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 || containsWildcard(origins) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

type httpHandler struct {
	service           MonolithService
	verifier          PaymentVerifier
	processor         PaymentProcessor
	realtime          *RealtimeDispatcher
	logger            *zap.Logger
	heartbeatInterval time.Duration
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleSnapshot(c *gin.Context) {
	snapshot, err := h.service.LandingSnapshot(c.Request.Context())
	if err != nil {
		h.respondError(c, "snapshot", err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, toSnapshotPayload(snapshot))
}

func (h *httpHandler) handleAcquireSolo(c *gin.Context) {
	var request acquireSoloRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	bid, err := parseAmount(request.BidAmount)
	if err != nil {
		respondInvalidAmount(c, "Bid amount")
		return
	}

	result, err := h.service.AcquireSolo(c.Request.Context(), monolith.AcquireSoloInput{
		Content:     request.Content,
		BidAmount:   bid,
		AuthorName:  request.AuthorName,
		NotifyEmail: request.NotifyEmail,
	})
	if err != nil {
		h.respondError(c, "acquire_solo", err)
		return
	}
	h.publishSolo()
	c.JSON(http.StatusOK, toAcquireSoloResponse(result, h.refreshSnapshot(c.Request.Context())))
}

func (h *httpHandler) handleInitializeSyndicate(c *gin.Context) {
	var request initializeSyndicateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	amount, err := parseAmount(request.InitialContribution)
	if err != nil {
		respondInvalidAmount(c, "Initial contribution")
		return
	}

	result, err := h.service.InitializeSyndicate(c.Request.Context(), monolith.InitializeSyndicateInput{
		ProposedContent:           request.ProposedContent,
		InitialContribution:       amount,
		AuthorName:                request.AuthorName,
		NotifyEmail:               request.NotifyEmail,
		NotifyOnFunded:            request.NotifyOnFunded,
		NotifyOnEveryContribution: request.NotifyOnEveryContribution,
		PaymentRef:                request.PaymentRef,
	})
	if err != nil {
		h.respondError(c, "initialize_syndicate", err)
		return
	}
	h.publishSyndicate(ChangeReasonSyndicateInitialized, result)
	c.JSON(http.StatusOK, toSyndicateResponse(result, h.refreshSnapshot(c.Request.Context())))
}

func (h *httpHandler) handleContribute(c *gin.Context) {
	var request contributeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	amount, err := parseAmount(request.Amount)
	if err != nil {
		respondInvalidAmount(c, "Contribution")
		return
	}

	result, err := h.service.ContributeToSyndicate(c.Request.Context(), monolith.ContributeInput{
		SyndicateID:    request.SyndicateID,
		Amount:         amount,
		AuthorName:     request.AuthorName,
		NotifyEmail:    request.NotifyEmail,
		NotifyOnFunded: request.NotifyOnFunded,
		PaymentRef:     request.PaymentRef,
	})
	if err != nil {
		h.respondError(c, "contribute", err)
		return
	}
	h.publishSyndicate(ChangeReasonSyndicateContribution, result)
	c.JSON(http.StatusOK, toSyndicateResponse(result, h.refreshSnapshot(c.Request.Context())))
}

func (h *httpHandler) handleContributors(c *gin.Context) {
	syndicateID := strings.TrimSpace(c.Query("syndicateId"))
	contributors, err := h.service.ListContributors(c.Request.Context(), syndicateID)
	if err != nil {
		h.respondError(c, "contributors", err)
		return
	}
	response := contributorsResponsePayload{
		SyndicateID:  syndicateID,
		Contributors: make([]contributorPayload, 0, len(contributors)),
	}
	for _, contributor := range contributors {
		response.Contributors = append(response.Contributors, contributorPayload{Name: contributor.Name})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handlePaymentEvent(c *gin.Context) {
	event, err := h.verifier.VerifyRequest(c.Request)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidEvent) || errors.Is(err, payments.ErrUnsupportedMode) {
			h.logger.Warn("payment event rejected", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event"})
			return
		}
		h.logger.Warn("payment event verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	outcome, err := h.processor.Process(c.Request.Context(), event)
	if err != nil {
		h.respondError(c, "payment", err)
		return
	}

	snapshot := h.refreshSnapshot(c.Request.Context())
	response := paymentResponsePayload{Mode: string(outcome.Mode)}
	switch {
	case outcome.Solo != nil:
		h.publishSolo()
		payload := toAcquireSoloResponse(*outcome.Solo, snapshot)
		response.Solo = &payload
	case outcome.Syndicate != nil:
		reason := ChangeReasonSyndicateContribution
		if event.SyndicateID == "" {
			reason = ChangeReasonSyndicateInitialized
		}
		h.publishSyndicate(reason, *outcome.Syndicate)
		payload := toSyndicateResponse(*outcome.Syndicate, snapshot)
		response.Syndicate = &payload
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message := <-stream:
			c.SSEvent(message.EventType, realtimeEventPayload{
				Reason:      message.Reason,
				SyndicateID: message.SyndicateID,
				Timestamp:   message.Timestamp.UTC(),
				Source:      realtimeSourceBackend,
			})
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, realtimeEventPayload{
				Timestamp: tick.UTC(),
				Source:    realtimeSourceBackend,
			})
			return true
		}
	})
}

// refreshSnapshot reads a fresh snapshot for a mutation response; nil when the read fails.
func (h *httpHandler) refreshSnapshot(ctx context.Context) *snapshotPayload {
	ctx, cancel := context.WithTimeout(ctx, snapshotRefreshTimeout)
	defer cancel()
	snapshot, err := h.service.LandingSnapshot(ctx)
	if err != nil {
		h.logger.Warn("post-settlement snapshot unavailable", zap.Error(err))
		return nil
	}
	payload := toSnapshotPayload(snapshot)
	return &payload
}

func (h *httpHandler) publishSolo() {
	h.realtime.Publish(RealtimeMessage{
		EventType: RealtimeEventMonolithChanged,
		Reason:    ChangeReasonSoloAcquired,
	})
}

func (h *httpHandler) publishSyndicate(reason string, result monolith.SyndicateResult) {
	if result.Replayed && !result.CoupExecuted {
		return
	}
	if result.CoupExecuted {
		reason = ChangeReasonCoup
	}
	h.realtime.Publish(RealtimeMessage{
		EventType:   RealtimeEventMonolithChanged,
		Reason:      reason,
		SyndicateID: result.Syndicate.ID,
	})
}

func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	var validationErr *monolith.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Reason, "message": validationErr.Message})
		return
	}
	code := ""
	var serviceErr *monolith.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	switch {
	case errors.Is(err, monolith.ErrSyndicateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "syndicate_not_found"})
	case errors.Is(err, monolith.ErrConcurrentSettlement):
		h.logger.Info("settlement resolved concurrently", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": "resolved_concurrently", "code": code})
	default:
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": operation + "_failed", "code": code})
	}
}

func respondInvalidAmount(c *gin.Context, label string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   monolith.ReasonInvalidAmount,
		"message": label + " must be a number.",
	})
}
