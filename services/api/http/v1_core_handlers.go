package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/plugmeter/internal/aggregate"
	"github.com/02loveslollipop/plugmeter/internal/models"
	"github.com/02loveslollipop/plugmeter/internal/sampler"
)

const (
	dateLayout     = "2006-01-02"
	defaultHistory = 24 * time.Hour
)

var errDeviceNotFound = errors.New("device not found")

// handleV1ListDevices returns the registered devices
// GET /api/v1/core/devices
func (s *Server) handleV1ListDevices(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	devices, err := s.deps.Registry.ListDevices(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": devices,
		"meta": gin.H{
			"count": len(devices),
		},
	})
}

// handleV1SampleDevice polls the device once and stores the reading
// POST /api/v1/core/devices/:id/sample
func (s *Server) handleV1SampleDevice(c *gin.Context) {
	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}
	if s.deps.Sampler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telemetry is not configured"})
		return
	}

	res := s.deps.Sampler.SampleOnce(c.Request.Context(), device.ID, device.Name)
	if res.Failure != nil {
		c.JSON(failureStatus(res.Failure.Kind), gin.H{
			"error": res.Failure.Error(),
			"kind":  res.Failure.Kind,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": res.Reading,
		"meta": gin.H{"device": device},
	})
}

func failureStatus(kind sampler.FailureKind) int {
	if kind == sampler.StoreUnavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

// handleV1DeviceLatest returns the most recent readings, oldest first
// GET /api/v1/core/devices/:id/latest?n=50
func (s *Server) handleV1DeviceLatest(c *gin.Context) {
	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}

	limit := s.cfg.DefaultLimit
	if nStr := c.Query("n"); nStr != "" {
		parsed, err := strconv.Atoi(nStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid n"})
			return
		}
		limit = min(parsed, s.cfg.MaxLimit)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	readings := s.deps.Aggregator.Latest(ctx, device.ID, limit)

	meta := gin.H{
		"device": device,
		"count":  len(readings),
		"stale":  true,
	}
	if len(readings) > 0 {
		last := readings[len(readings)-1]
		meta["stale"] = s.deps.Aggregator.IsStale(last)
		meta["last_timestamp"] = last.Timestamp.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, gin.H{"data": readings, "meta": meta})
}

// handleV1DeviceHistory returns a raw or resampled series for a time range
// GET /api/v1/core/devices/:id/history?start=&end=&agg=raw|1-min|5-min|15-min
func (s *Server) handleV1DeviceHistory(c *gin.Context) {
	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}

	bucket, err := aggregate.ParseBucket(c.Query("agg"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agg"})
		return
	}

	loc := s.deps.Aggregator.Location()
	end := time.Now().UTC()
	if endStr := c.Query("end"); endStr != "" {
		if end, err = parseBound(endStr, loc, true); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end timestamp"})
			return
		}
	}
	start := end.Add(-defaultHistory)
	if startStr := c.Query("start"); startStr != "" {
		if start, err = parseBound(startStr, loc, false); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start timestamp"})
			return
		}
	}
	if start.After(end) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must not be after end"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	series := s.deps.Aggregator.RangeSeries(ctx, device.ID, start, end, bucket)
	aggName := "raw"
	if bucket > 0 {
		aggName = bucket.String()
	}

	c.JSON(http.StatusOK, gin.H{
		"data": series.Points,
		"meta": gin.H{
			"device": device,
			"count":  series.Len(),
			"start":  start.Format(time.RFC3339Nano),
			"end":    end.Format(time.RFC3339Nano),
			"agg":    aggName,
		},
	})
}

// handleV1DeviceBilling returns today's and this month's energy and cost
// GET /api/v1/core/devices/:id/billing
func (s *Server) handleV1DeviceBilling(c *gin.Context) {
	device, ok := s.lookupDevice(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	summary := s.deps.Aggregator.DailyMonthlyFor(ctx, device.ID)
	c.JSON(http.StatusOK, gin.H{
		"data": summary,
		"meta": gin.H{
			"device":       device,
			"rate_per_kwh": s.cfg.RatePerKWh,
			"timezone":     s.deps.Aggregator.Location().String(),
		},
	})
}

// lookupDevice resolves :id against the registry and writes the error response itself.
func (s *Server) lookupDevice(c *gin.Context) (models.Device, bool) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device id is required"})
		return models.Device{}, false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	devices, err := s.deps.Registry.ListDevices(ctx)
	if err != nil {
		s.log.WithError(err).Error("list devices failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return models.Device{}, false
	}
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": errDeviceNotFound.Error()})
	return models.Device{}, false
}

// parseBound accepts RFC3339 or a bare date in loc. A bare end date covers the whole day.
func parseBound(s string, loc *time.Location, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	day, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return day.UTC(), nil
}
