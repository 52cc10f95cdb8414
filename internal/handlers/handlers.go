// Package handlers implements the HTTP API surface.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"veilcore/internal/deposit"
	"veilcore/internal/ledger"
	"veilcore/internal/nullifier"
	"veilcore/internal/relayer"
	"veilcore/internal/store"
	"veilcore/internal/veilerr"
	"veilcore/internal/withdraw"
)

// Handler bundles the API dependencies.
type Handler struct {
	Ledger          ledger.Ledger
	Deposits        *deposit.Manager
	Withdrawals     *withdraw.Manager
	RelayerRegistry *relayer.Registry
	Nullifiers      *nullifier.Manager
	DepositRepo     store.DepositRepository
	Log             *logrus.Logger
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch veilerr.KindOf(err) {
	case veilerr.KindInvalidNoteFormat, veilerr.KindInvalidCircuitInput:
		return http.StatusBadRequest
	case veilerr.KindAlreadySpent, veilerr.KindWithdrawInFlight:
		return http.StatusConflict
	case veilerr.KindFeeTooHigh, veilerr.KindWithdrawalTooLow, veilerr.KindPoolInactive:
		return http.StatusUnprocessableEntity
	case veilerr.KindNetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"success": false,
		"error":   err.Error(),
		"kind":    veilerr.KindOf(err).String(),
	})
}

// DepositRequest is the deposit API payload.
type DepositRequest struct {
	Amount    uint64 `json:"amount" binding:"required"`
	TokenType string `json:"token_type" binding:"required"`
	Recipient string `json:"recipient,omitempty"`
}

// Deposit runs a deposit and returns the encoded note. The note appears in
// this response only; it is never persisted server-side.
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	var recipient *ledger.Address
	if req.Recipient != "" {
		addr, err := ledger.ParseAddress(req.Recipient)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		recipient = &addr
	}

	res, err := h.Deposits.Deposit(c.Request.Context(), req.Amount, req.TokenType, recipient)
	if err != nil {
		resp := gin.H{
			"success": false,
			"error":   err.Error(),
			"kind":    veilerr.KindOf(err).String(),
			"state":   string(res.State),
		}
		// An unconfirmed note still reaches the caller; dropping it here
		// would strand the funds if the transfer actually landed.
		if res.Encoded != "" {
			resp["note"] = res.Encoded
		}
		c.JSON(statusFor(err), resp)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"id":         res.ID,
		"state":      string(res.State),
		"note":       res.Encoded,
		"tree_id":    res.TreeID,
		"signature":  string(res.Signature),
		"commitment": res.Note.Commitment().Hex(),
	})
}

// WithdrawRequest is the withdraw API payload.
type WithdrawRequest struct {
	Note       string `json:"note" binding:"required"`
	Recipient  string `json:"recipient" binding:"required"`
	Relayer    string `json:"relayer,omitempty"`
	UseRelayer bool   `json:"use_relayer,omitempty"`
	Fee        uint64 `json:"fee,omitempty"`
}

func (r *WithdrawRequest) toManagerRequest() (withdraw.Request, error) {
	recipient, err := ledger.ParseAddress(r.Recipient)
	if err != nil {
		return withdraw.Request{}, err
	}
	req := withdraw.Request{
		Note:       r.Note,
		Recipient:  recipient,
		UseRelayer: r.UseRelayer,
		Fee:        r.Fee,
	}
	if r.Relayer != "" {
		addr, err := ledger.ParseAddress(r.Relayer)
		if err != nil {
			return withdraw.Request{}, err
		}
		req.Relayer = &addr
	}
	return req, nil
}

// Withdraw runs a withdrawal synchronously. Long-running callers wanting
// progress use the websocket variant.
func (h *Handler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	mreq, err := req.toManagerRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	res, err := h.Withdrawals.Withdraw(c.Request.Context(), mreq, nil)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"id":        res.ID,
		"state":     string(res.State),
		"signature": string(res.Signature),
		"relayer":   res.Relayer.Hex(),
		"fee":       res.Fee,
		"attempts":  res.Attempts,
	})
}

// Pools lists the configured pools.
func (h *Handler) Pools(c *gin.Context) {
	raw, err := h.Ledger.ReadProgramAccounts(c.Request.Context(), ledger.AccountFilter{Kind: ledger.AccountPool})
	if err != nil {
		fail(c, veilerr.Wrap(veilerr.KindNetworkError, err, "listing pools"))
		return
	}
	pools := make([]*ledger.Pool, 0, len(raw))
	for _, data := range raw {
		p, err := ledger.DecodePool(data)
		if err != nil {
			h.Log.WithError(err).Warn("skipping undecodable pool account")
			continue
		}
		pools = append(pools, p)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pools": pools})
}

// Relayers lists active relayers, sorted and filtered by query parameters.
func (h *Handler) Relayers(c *gin.Context) {
	criteria := relayer.SortCriteria(c.DefaultQuery("sort", string(relayer.SortLowestFee)))
	var filter relayer.Filter
	if v := c.Query("max_fee_bps"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			filter.MaxFeeBps = uint16(n)
		}
	}
	if v := c.Query("min_success_bps"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			filter.MinSuccessRateBps = uint16(n)
		}
	}
	if v := c.Query("max_response_ms"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			filter.MaxResponseMs = uint32(n)
		}
	}

	list, err := h.RelayerRegistry.Sorted(c.Request.Context(), criteria, filter)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(list))
	for _, r := range list {
		out = append(out, gin.H{
			"address":          r.Address.Hex(),
			"fee_basis_points": r.FeeBasisPoints,
			"success_rate_bps": r.SuccessRateBps,
			"avg_response_ms":  r.AvgResponseMs,
			"total_volume":     r.TotalVolume,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "relayers": out})
}

// SpentCheckRequest is the batch nullifier check payload.
type SpentCheckRequest struct {
	PoolID uint64   `json:"pool_id" binding:"required"`
	Hashes []string `json:"hashes" binding:"required"`
}

// CheckSpent answers spent status for a batch of nullifier hashes.
func (h *Handler) CheckSpent(c *gin.Context) {
	var req SpentCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	hashes := make([]ledger.Hash, 0, len(req.Hashes))
	for _, s := range req.Hashes {
		hh, err := ledger.ParseHash(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		hashes = append(hashes, hh)
	}

	spent, err := h.Nullifiers.BatchCheck(c.Request.Context(), req.PoolID, hashes)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "spent": spent})
}

// DepositHistory pages the deposit index for a pool.
func (h *Handler) DepositHistory(c *gin.Context) {
	if h.DepositRepo == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "index database not configured"})
		return
	}
	poolID, err := strconv.ParseUint(c.Query("pool_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "pool_id required"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	recs, total, err := h.DepositRepo.ListByPool(c.Request.Context(), poolID, page, pageSize)
	if err != nil {
		fail(c, veilerr.Wrap(veilerr.KindUnknown, err, "listing deposits"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "total": total, "deposits": recs})
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
