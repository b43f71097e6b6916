package publish

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/pagesmith/internal/retry"
)

// Activator enables static publication of a synchronized project.
type Activator struct {
	store  RemoteStore
	links  Links
	source PublicationSource
	logger zerolog.Logger
}

// NewActivator creates an activator publishing src for every project.
func NewActivator(store RemoteStore, links Links, src PublicationSource, logger zerolog.Logger) *Activator {
	if src.Branch == "" {
		src.Branch = "main"
	}
	if src.Path == "" {
		src.Path = "/"
	}
	return &Activator{
		store:  store,
		links:  links,
		source: src,
		logger: logger.With().Str("component", "activator").Logger(),
	}
}

// Activate issues one best-effort enable request and returns the expected
// publication URL. A failure is logged only: publication may already be
// enabled by an earlier run, or enabled automatically by the platform.
func (a *Activator) Activate(ctx context.Context, ref string) (string, error) {
	pagesURL := a.links.PagesURL(ref)
	err := a.store.EnablePublication(ctx, ref, a.source)
	if err != nil {
		a.logger.Warn().Err(err).Str("repo", ref).Msg("publication activation failed, continuing")
	} else {
		a.logger.Info().Str("repo", ref).Str("pages_url", pagesURL).Msg("publication enabled")
	}
	return pagesURL, err
}

// Prober checks whether a published URL is being served.
type Prober struct {
	client *http.Client
	poller retry.Poller
	logger zerolog.Logger
}

// NewProber creates a prober; a nil client gets a 10s-timeout default.
func NewProber(client *http.Client, poller retry.Poller, logger zerolog.Logger) *Prober {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Prober{
		client: client,
		poller: poller,
		logger: logger.With().Str("component", "prober").Logger(),
	}
}

// Reachable issues one GET and reports whether it returned 200.
func (p *Prober) Reachable(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// WaitReady polls url until it is reachable or the poll budget is spent.
func (p *Prober) WaitReady(ctx context.Context, url string) error {
	poller := p.poller
	log := p.logger.With().Str("url", url).Logger()
	poller.OnProbe = func(probe int, err error) {
		log.Debug().Err(err).Int("probe", probe).Msg("not reachable yet")
	}

	err := retry.Poll(ctx, poller, func(ctx context.Context) (bool, error) {
		return p.Reachable(ctx, url)
	})
	if err != nil {
		log.Warn().Err(err).Msg("timed out waiting for publication")
		return err
	}
	log.Info().Msg("publication is reachable")
	return nil
}
