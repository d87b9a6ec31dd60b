package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/events"
	"github.com/crowdmap/crowdsync/internal/remote"
	"github.com/crowdmap/crowdsync/internal/repo"
	"github.com/crowdmap/crowdsync/internal/schema"
	"github.com/crowdmap/crowdsync/internal/session"
	"github.com/crowdmap/crowdsync/internal/store"
	"github.com/crowdmap/crowdsync/internal/sync"
)

// app wires the cache, the session manager, the remote client and the
// orchestrator for one command invocation.
type app struct {
	store    *store.Store
	repo     *repo.Repository
	sessions *session.Manager
	client   *remote.Client
	syncer   sync.Syncer
}

// openApp opens the cache and builds the component graph. Events go to
// publisher and the log.
func openApp(ctx context.Context, publisher events.Publisher) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.Open(cfg.Database, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := st.Bootstrap(ctx); err != nil {
		st.Close()
		var schemaErr *errs.SchemaError
		if errors.As(err, &schemaErr) {
			return nil, fmt.Errorf("%w\nthe cache was written by another version; run 'crowdsync cache reset'", err)
		}
		return nil, err
	}

	opts := []remote.Option{
		remote.WithLogger(logger),
		remote.WithTimeout(cfg.Remote.Timeout),
		remote.WithClientCredentials(cfg.Remote.ClientID, cfg.Remote.ClientSecret),
		remote.WithScope(cfg.Remote.Scope),
		remote.WithSource(cfg.Remote.Source),
		remote.WithSearchURL(cfg.Remote.SearchURL),
		remote.WithGeocoder(remote.NewNominatimGeocoder(cfg.Remote.GeocoderURL, cfg.Remote.UserAgent)),
	}

	r := repo.New(st, logger)
	sessions := session.NewManager(remote.NewOAuth(opts...), session.NewKeyringStore(cfg.Keyring.Service), logger)
	client := remote.New(r, sessions, opts...)

	pub := events.Publisher(events.LogPublisher{Logger: logger})
	if publisher != nil {
		pub = events.Fanout{publisher, pub}
	}

	return &app{
		store:    st,
		repo:     r,
		sessions: sessions,
		client:   client,
		syncer:   sync.New(r, client, sessions, &sync.Config{Logger: logger, Publisher: pub}),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// deployment resolves a command argument naming a cached deployment by id
// or by name.
func (a *app) deployment(ctx context.Context, arg string) (*schema.Deployment, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return a.repo.Deployment(ctx, id)
	}
	deployments, err := a.repo.Deployments(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range deployments {
		if strings.EqualFold(d.Name, arg) || strings.EqualFold(d.Domain, arg) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("deployment %q: %w", arg, errs.ErrNotFound)
}

// fetchOptions builds read options from the global --offline flag and the
// command's own --cache flag.
func fetchOptions(cache bool, limit, offset int) sync.FetchOptions {
	return sync.FetchOptions{Cache: cache, Offline: offline, Limit: limit, Offset: offset}
}

// render prints v in the selected output format. table renders the human
// form.
func render(v any, table func() string) error {
	switch outputFormat {
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "table", "":
		fmt.Print(table())
		return nil
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}
}
