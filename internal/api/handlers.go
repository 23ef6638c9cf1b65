package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jaecopzm/postcraft-sub000/internal/gate"
	"github.com/jaecopzm/postcraft-sub000/internal/models"
	"github.com/jaecopzm/postcraft-sub000/pkg/realip"
)

// AdmitRequest asks whether one gated action attempt may proceed. The caller
// (the product backend) forwards the end user's account and client address;
// both may be empty for anonymous traffic.
type AdmitRequest struct {
	Action     string `json:"action"`
	AccountID  string `json:"account_id,omitempty"`
	ClientAddr string `json:"client_addr,omitempty"`
}

// AdmitResponse is the combined admission decision.
type AdmitResponse struct {
	Admitted     bool   `json:"admitted"`
	Reason       string `json:"reason"`
	Tier         string `json:"tier"`
	Remaining    int    `json:"remaining"`
	ResetAt      int64  `json:"reset_at,omitempty"`
	QuotaUsed    int64  `json:"quota_used,omitempty"`
	QuotaCeiling int64  `json:"quota_ceiling,omitempty"`
}

// handleAdmit runs the full admission pipeline for one attempt. Quota
// exhaustion answers 403 and rate limiting answers 429 so clients can present
// the two rejections differently; both carry the decision body.
func (s *Server) handleAdmit(c *gin.Context) {
	var req AdmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Action == "" {
		req.Action = "generate"
	}
	if req.ClientAddr == "" {
		req.ClientAddr = realip.FromRequest(c.Request)
	}

	decision, err := s.gate.Admit(c.Request.Context(), req.Action, req.AccountID, req.ClientAddr)
	if err != nil {
		// Fail-closed configuration: the store is down and the decision is a
		// deliberate rejection, not an internal error.
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "admission unavailable",
			"reason": string(decision.Reason),
		})
		return
	}

	resp := AdmitResponse{
		Admitted:     decision.Admitted,
		Reason:       string(decision.Reason),
		Tier:         decision.Tier,
		Remaining:    decision.Remaining,
		ResetAt:      decision.ResetAt,
		QuotaUsed:    decision.QuotaUsed,
		QuotaCeiling: decision.QuotaCeiling,
	}

	switch decision.Reason {
	case gate.ReasonRateLimited:
		retryAfter := time.Until(time.UnixMilli(decision.ResetAt))
		if retryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		}
		c.JSON(http.StatusTooManyRequests, resp)
	case gate.ReasonQuotaExceeded:
		c.JSON(http.StatusForbidden, resp)
	default:
		c.JSON(http.StatusOK, resp)
	}
}

// UsageResponse reports current-period quota consumption for an account.
type UsageResponse struct {
	AccountID string `json:"account_id"`
	Period    string `json:"period"`
	Tier      string `json:"tier"`
	Used      int64  `json:"used"`
	Ceiling   int64  `json:"ceiling,omitempty"`
	Unlimited bool   `json:"unlimited"`
}

// handleUsage returns the account's quota usage for the current period.
func (s *Server) handleUsage(c *gin.Context) {
	accountID := c.Param("account_id")

	used, period, tier, err := s.gate.Usage(c.Request.Context(), accountID)
	if err != nil {
		s.logger.ErrorWithContext(c.Request.Context(), "usage lookup failed",
			"account_id", accountID,
			"error", err.Error(),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "usage unavailable"})
		return
	}

	resp := UsageResponse{
		AccountID: accountID,
		Period:    period,
		Tier:      string(tier),
		Used:      used,
	}
	if ceiling, limited := s.gate.QuotaCeiling(tier); limited {
		resp.Ceiling = ceiling
	} else {
		resp.Unlimited = true
	}
	c.JSON(http.StatusOK, resp)
}

// handleInspectLimit reports the in-window request count for an identifier
// without consuming budget.
func (s *Server) handleInspectLimit(c *gin.Context) {
	identifier := c.Param("identifier")

	rec, ok, err := s.store.GetRateLimitRecord(c.Request.Context(), identifier)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"identifier": identifier, "in_window": 0})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"identifier":   identifier,
		"in_window":    len(rec.Timestamps),
		"last_updated": rec.LastUpdated,
	})
}

// AccountRequest upserts an account's tier.
type AccountRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// handleUpsertAccount creates or updates an account's subscription tier.
func (s *Server) handleUpsertAccount(c *gin.Context) {
	id := c.Param("id")

	var req AccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tier := models.Tier(req.Tier)
	if !tier.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tier must be one of: free, pro"})
		return
	}

	acc := &models.Account{ID: id, Tier: tier}
	if err := s.store.SetAccount(c.Request.Context(), acc); err != nil {
		s.logger.ErrorWithContext(c.Request.Context(), "account upsert failed",
			"account_id", id,
			"error", err.Error(),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}

	s.logger.InfoWithContext(c.Request.Context(), "account upserted",
		"account_id", id,
		"tier", req.Tier,
	)
	c.JSON(http.StatusOK, gin.H{"id": id, "tier": req.Tier})
}

// handleGetAccount returns an account.
func (s *Server) handleGetAccount(c *gin.Context) {
	id := c.Param("id")

	acc, ok, err := s.store.GetAccount(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, acc)
}
