package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/plugmeter/internal/aggregate"
)

// handleV1RealtimeTotals returns the fleet-wide power, voltage and billing snapshot
// GET /api/v1/realtime/totals
func (s *Server) handleV1RealtimeTotals(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	devices, err := s.deps.Registry.ListDevices(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	totals := s.deps.Aggregator.TotalsAllDevices(ctx, devices)
	c.JSON(http.StatusOK, gin.H{
		"data": totals,
		"meta": gin.H{
			"devices_count": len(devices),
			"rate_per_kwh":  s.cfg.RatePerKWh,
			"generated_at":  time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// handleV1RealtimeSeries24h returns the last 24 hours of summed power and mean voltage
// GET /api/v1/realtime/series24h?bucket=5m
func (s *Server) handleV1RealtimeSeries24h(c *gin.Context) {
	bucket, err := aggregate.ParseBucket(c.Query("bucket"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bucket"})
		return
	}
	if bucket <= 0 {
		bucket = s.cfg.ResampleBucket
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	devices, err := s.deps.Registry.ListDevices(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	series := s.deps.Aggregator.TimeSeries24hAllDevices(ctx, devices, bucket)
	c.JSON(http.StatusOK, gin.H{
		"data": series.Points,
		"meta": gin.H{
			"devices_count": len(devices),
			"count":         series.Len(),
			"bucket":        bucket.String(),
			"generated_at":  time.Now().UTC().Format(time.RFC3339),
		},
	})
}
