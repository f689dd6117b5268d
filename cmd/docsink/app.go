package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"docsink/internal/config"
	"docsink/internal/observability"
	"docsink/internal/persistence"
)

// newPersistence builds the engine from the loaded configuration.
func newPersistence(cfg *config.Config, adapter persistence.StoreAdapter, logger *zap.Logger, metrics persistence.Metrics) (*persistence.Persistence, error) {
	batch, err := cfg.Persistence.BatchConfig()
	if err != nil {
		return nil, err
	}

	pcfg := persistence.Config{
		Batch: batch,
		Query: persistence.QueryFields(cfg.Persistence.QueryFields...),
	}
	if cfg.Import.ClearQuery != nil {
		pcfg.ClearModel = persistence.RawQuery(cfg.Import.ClearQuery)
	}
	return persistence.New(adapter, pcfg, logger, metrics)
}

// newRouter serves the metrics registry and a health report.
func newRouter(metricsPath string, collector *observability.Collector, p *persistence.Persistence) http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     "healthy",
			"collection": p.CollectionName(),
			"persisted":  p.Count(),
			"queued":     p.QueueSize(),
		})
	})
	if collector != nil {
		router.Handle(metricsPath, promhttp.HandlerFor(collector.GetRegistry(), promhttp.HandlerOpts{}))
	}
	return router
}
