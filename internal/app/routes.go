package app

// registerRoutes sets up all HTTP handlers for the application.
func (a *App) registerRoutes() {
	a.Mux.HandleFunc("GET /api/health", a.handleHealth)
	a.Mux.HandleFunc("GET /api/state", a.handleState)
	a.Mux.HandleFunc("GET /api/latest", a.handleLatest)
	a.Mux.HandleFunc("POST /api/teleop", a.handleTeleop)
	if a.metrics != nil {
		a.Mux.Handle("GET /metrics", a.metrics)
	}
}
