package goRotate

// SecurityReport summarizes the effective configuration. It never includes key material.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	report := SecurityReport{
		SigningAlgorithm: e.config.Token.SigningMethod,
		AccessTTL:        e.config.Token.AccessTTL,
		RefreshTTL:       e.config.Token.RefreshTTL,
		MaxSessions:      e.config.Session.MaxPerPrincipal,
		OverflowPolicy:   e.config.Session.Overflow,
		StoreBackend:     e.storeBackend,
		RevocationIndex:  e.index != nil,
		SweeperEnabled:   e.sweeper != nil,
		SweepRetention:   e.config.Sweep.Retention,
		AuditEnabled:     e.audit != nil,
		AuditDropped:     e.AuditDropped(),
	}
	if e.limiter != nil {
		cfg := e.limiter.Config()
		report.RateLimitMaxAttempts = cfg.MaxAttempts
		report.RateLimitWindow = cfg.Window
		report.RateLimitBlock = cfg.BlockDuration
		report.RateLimitKeyStrategy = cfg.Strategy.String()
		report.RateLimitBackend = e.limiterBackend
	}
	if e.roleManager != nil {
		report.RegisteredRoles = e.roleManager.Count()
	}
	if e.registry != nil {
		report.KnownPermissions = e.registry.Count()
	}
	return report
}
