package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/pkg/logger"
)

// ProfitReporter sums booked fee revenue
type ProfitReporter interface {
	TotalByChain(ctx context.Context) (map[entities.Chain]decimal.Decimal, error)
}

// AdminHandlers exposes the operator-facing reporting surface
type AdminHandlers struct {
	profits ProfitReporter
	logger  *logger.Logger
}

func NewAdminHandlers(profits ProfitReporter, logger *logger.Logger) *AdminHandlers {
	return &AdminHandlers{profits: profits, logger: logger}
}

// GetProfits handles GET /api/v1/admin/profits
func (h *AdminHandlers) GetProfits(c *gin.Context) {
	totals, err := h.profits.TotalByChain(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to load profit totals", "error", err)
		respondInternalError(c, "Failed to load profit totals")
		return
	}

	out := make(map[string]string, len(totals))
	for chain, total := range totals {
		out[string(chain)] = total.String()
	}
	SendSuccess(c, gin.H{"totals": out})
}
