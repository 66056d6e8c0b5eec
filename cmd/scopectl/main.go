// Command scopectl administers the allowed-domain keywords that bound
// scoped conversations.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/capitalize-ai/guarded-chat/internal/bootstrap"
	"github.com/capitalize-ai/guarded-chat/internal/config"
	"github.com/capitalize-ai/guarded-chat/internal/service"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

func main() {
	if err := newRootCmd(openDomains).Execute(); err != nil {
		os.Exit(1)
	}
}

// openDomains wires a DomainService over the configured backend. Mutations
// purge the shared Redis cache when one is configured.
func openDomains(ctx context.Context) (*service.DomainService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	backend, err := bootstrap.OpenBackend(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	cache, err := bootstrap.OpenSharedCache(ctx, cfg, log)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}

	registry := bootstrap.NewRegistry(backend, cache, log)
	closeAll := func() {
		if cache != nil {
			cache.Close()
		}
		backend.Close()
		_ = log.Sync()
	}
	return service.NewDomainService(backend.Domains, registry, log), closeAll, nil
}
