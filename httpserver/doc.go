/*
Package httpserver implements the HTTP shell shared by the enrollment
services.

A Server composes any number of RouteRegistrar surfaces on one chi router.
Service routes run behind request logging, a request body size limit, panic
recovery and Prometheus duration metrics; next to them the server exposes the
operational endpoints every deployment expects.

# Endpoints

  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready
  - /debug - pprof profiler (when enabled)

Draining flips an atomic readiness flag so load balancers stop routing new
connections before the process exits; actual shutdown is a separate graceful
step driven by the owning command.

# Example Usage

	cfg := &api.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":9090",
		Log:                      logger,
		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}

	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		log.Fatalf("Failed to create metrics server: %v", err)
	}

	server, err := httpserver.New(cfg, metricsSrv, dmHandler, adminHandler)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	server.RunInBackground()
	defer server.Shutdown()

The metrics server is created by the caller so handlers built before the
shell can record on the same instrument set.
*/
package httpserver
