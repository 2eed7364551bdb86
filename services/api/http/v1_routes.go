package http

// registerV1Routes sets up the v1 API.
// Groups: /api/v1/core (per device), /api/v1/realtime (whole fleet)
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware())
	if s.cfg.BearerToken != "" {
		v1.Use(bearerAuthMiddleware(s.cfg.BearerToken))
	}

	core := v1.Group("/core")
	{
		core.GET("/devices", s.handleV1ListDevices)
		core.POST("/devices/:id/sample", s.handleV1SampleDevice)
		core.GET("/devices/:id/latest", s.handleV1DeviceLatest)
		core.GET("/devices/:id/history", s.handleV1DeviceHistory)
		core.GET("/devices/:id/billing", s.handleV1DeviceBilling)
	}

	realtime := v1.Group("/realtime")
	{
		realtime.GET("/totals", s.handleV1RealtimeTotals)
		realtime.GET("/series24h", s.handleV1RealtimeSeries24h)
	}
}
