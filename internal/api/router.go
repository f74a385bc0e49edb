// Package api exposes the analyzed state over a small read-only HTTP
// surface. The pipeline itself never depends on this package; it exists
// so dashboards and bots can poll the latest signals.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/quantfold/cryptolake/internal/history"
	"github.com/quantfold/cryptolake/internal/models"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type SignalResponse struct {
	AssetID    string        `json:"asset_id"`
	Symbol     string        `json:"symbol"`
	Name       string        `json:"name"`
	Price      float64       `json:"price"`
	SMA        float64       `json:"sma"`
	Volatility *float64      `json:"volatility,omitempty"`
	RSI        float64       `json:"rsi"`
	Signal     models.Signal `json:"signal"`
	AsOf       time.Time     `json:"as_of"`
	AnalyzedAt time.Time     `json:"analyzed_at"`
}

type SignalsHandler struct {
	store  history.Store
	logger *logrus.Logger
}

func NewSignalsHandler(store history.Store, logger *logrus.Logger) *SignalsHandler {
	return &SignalsHandler{store: store, logger: logger}
}

func SetupRoutes(router *gin.Engine, handler *SignalsHandler) {
	router.GET("/health", healthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/signals", handler.GetSignals)
		v1.GET("/signals/:asset", handler.GetSignal)
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})
}

// GetSignals returns the most recent analyzed row per asset.
func (h *SignalsHandler) GetSignals(c *gin.Context) {
	latest, err := h.latest(c)
	if err != nil {
		return
	}

	signals := make([]SignalResponse, 0, len(latest))
	for _, record := range latest {
		signals = append(signals, toSignalResponse(record))
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

// GetSignal returns the most recent analyzed row for one asset id.
func (h *SignalsHandler) GetSignal(c *gin.Context) {
	asset := c.Param("asset")

	latest, err := h.latest(c)
	if err != nil {
		return
	}

	for _, record := range latest {
		if record.AssetID == asset {
			c.JSON(http.StatusOK, toSignalResponse(record))
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown asset: " + asset})
}

// latest loads the state and reduces it to one row per asset. Errors are
// written to the response before returning.
func (h *SignalsHandler) latest(c *gin.Context) ([]models.AnalyzedRecord, error) {
	state, err := h.store.Load(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load analyzed state")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load analyzed state"})
		return nil, err
	}

	byAsset := make(map[string]models.AnalyzedRecord)
	for _, record := range state {
		current, ok := byAsset[record.AssetID]
		if !ok || record.SourceUpdatedAt.After(current.SourceUpdatedAt) {
			byAsset[record.AssetID] = record
		}
	}

	latest := make([]models.AnalyzedRecord, 0, len(byAsset))
	for _, record := range byAsset {
		latest = append(latest, record)
	}
	return latest, nil
}

func toSignalResponse(record models.AnalyzedRecord) SignalResponse {
	return SignalResponse{
		AssetID:    record.AssetID,
		Symbol:     record.Symbol,
		Name:       record.Name,
		Price:      record.CurrentPrice,
		SMA:        record.SMAWindow,
		Volatility: record.VolatilityWindow,
		RSI:        record.RSIWindow,
		Signal:     record.Signal,
		AsOf:       record.SourceUpdatedAt,
		AnalyzedAt: record.AnalyzedAt,
	}
}
