package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coinrail/custody_service/internal/chains"
	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/internal/domain/services/deposit"
	"github.com/coinrail/custody_service/internal/domain/services/withdrawal"
	"github.com/coinrail/custody_service/pkg/logger"
)

// CustodyHandlers exposes the withdrawal queue and deposit monitor
type CustodyHandlers struct {
	queue    *withdrawal.Queue
	monitor  *deposit.Monitor
	backends *chains.Registry
	logger   *logger.Logger
}

// NewCustodyHandlers creates a new CustodyHandlers instance
func NewCustodyHandlers(queue *withdrawal.Queue, monitor *deposit.Monitor, backends *chains.Registry, logger *logger.Logger) *CustodyHandlers {
	return &CustodyHandlers{
		queue:    queue,
		monitor:  monitor,
		backends: backends,
		logger:   logger,
	}
}

// EnqueueWithdrawal handles POST /api/v1/custody/withdrawals/:id/enqueue.
// Acceptance is acknowledged immediately; the outcome is reported through
// the transaction record and the user notification, never this response.
func (h *CustodyHandlers) EnqueueWithdrawal(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid transaction id", map[string]interface{}{"error": err.Error()})
		return
	}

	h.queue.Enqueue(id)
	SendAccepted(c, entities.EnqueueWithdrawalResponse{
		TransactionID: id.String(),
		Accepted:      true,
	})
}

// MonitorWallet handles POST /api/v1/custody/wallets/:id/monitor
func (h *CustodyHandlers) MonitorWallet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid wallet id", map[string]interface{}{"error": err.Error()})
		return
	}

	if err := h.monitor.Watch(c.Request.Context(), id); err != nil {
		var vErr *entities.ValidationError
		switch {
		case errors.Is(err, entities.ErrWalletNotFound):
			respondNotFound(c, "Wallet not found")
		case errors.As(err, &vErr):
			respondBadRequest(c, vErr.Error())
		default:
			h.logger.Error("Failed to start deposit watch", "wallet_id", id.String(), "error", err)
			respondInternalError(c, "Failed to start deposit monitoring")
		}
		return
	}

	SendSuccess(c, entities.MonitorWalletResponse{WalletID: id.String(), Monitoring: true})
}

// MonitoredWallets handles GET /api/v1/custody/wallets/monitored
func (h *CustodyHandlers) MonitoredWallets(c *gin.Context) {
	SendSuccess(c, h.monitor.Watches())
}

// UnmonitorWallet handles DELETE /api/v1/custody/wallets/:id/monitor
func (h *CustodyHandlers) UnmonitorWallet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid wallet id", map[string]interface{}{"error": err.Error()})
		return
	}

	h.monitor.Unwatch(id)
	SendNoContent(c)
}

// ChainHealth handles GET /api/v1/custody/chains/health
func (h *CustodyHandlers) ChainHealth(c *gin.Context) {
	ctx := c.Request.Context()

	report := make([]entities.ChainHealth, 0)
	for _, chain := range h.backends.Chains() {
		backend, err := h.backends.Lookup(chain)
		if err != nil {
			continue
		}
		status := entities.ChainHealth{Chain: chain, Active: true}
		if err := backend.Ping(ctx); err != nil {
			status.Active = false
			status.Error = err.Error()
		}
		report = append(report, status)
	}

	SendSuccess(c, report)
}
