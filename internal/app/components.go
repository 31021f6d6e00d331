package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/florianilch/ticketbridge/internal/atlassian"
	"github.com/florianilch/ticketbridge/internal/cache"
	"github.com/florianilch/ticketbridge/internal/fields"
	"github.com/florianilch/ticketbridge/internal/resolver"
	"github.com/florianilch/ticketbridge/internal/sqlitedb"
	"github.com/florianilch/ticketbridge/internal/tokenstore"
	"github.com/florianilch/ticketbridge/internal/toolchannel"
	"github.com/florianilch/ticketbridge/internal/usage"
)

// databases opens each SQLite path once and closes them together.
type databases struct {
	open map[string]*sql.DB
}

func (d *databases) get(path string) (*sql.DB, error) {
	if db, ok := d.open[path]; ok {
		return db, nil
	}
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	if d.open == nil {
		d.open = map[string]*sql.DB{}
	}
	d.open[path] = db
	return db, nil
}

func (d *databases) Close() error {
	var errs []error
	for _, db := range d.open {
		errs = append(errs, db.Close())
	}
	d.open = nil
	return errors.Join(errs...)
}

// NewCredentialStore creates a CredentialStore from the authentication configuration.
func (a *AuthConfig) NewCredentialStore(dbs *databases) (tokenstore.CredentialStore, error) {
	switch a.Storage {
	case CredentialStorageTypeFile:
		return tokenstore.NewFileStore(a.File)
	case CredentialStorageTypeEnv:
		return tokenstore.NewEnvStore(a.EnvKey)
	case CredentialStorageTypeKeyring:
		return tokenstore.NewKeyringStore(a.KeyringService)
	case CredentialStorageTypeSQLite:
		db, err := dbs.get(a.Database)
		if err != nil {
			return nil, fmt.Errorf("opening credential database: %w", err)
		}
		return tokenstore.NewSQLStore(db)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// NewManager creates the OAuth token manager from the Atlassian configuration.
func (a *AtlassianConfig) NewManager() (*atlassian.Manager, error) {
	return atlassian.NewManager(a.ClientID, a.ClientSecret, a.RedirectURL, atlassian.Endpoint(a.AuthBaseURL))
}

// NewClient creates the REST client from the Atlassian configuration.
func (a *AtlassianConfig) NewClient() *atlassian.Client {
	return atlassian.NewClient(a.APIBaseURL, &http.Client{Timeout: a.RequestTimeout})
}

// NewMapping creates the field mapping used on writes.
func (f *FieldsConfig) NewMapping() fields.Mapping {
	return fields.NewMapping(f.SummaryField, f.Aliases)
}

// NewChannel creates the tool gateway channel.
func (t *ToolChannelConfig) NewChannel() *toolchannel.HTTPChannel {
	return toolchannel.New(t.GatewayURL, t.Token, toolchannel.WithProbeTimeout(t.ProbeTimeout))
}

// NewBrowserResolver creates the browser-side resolver: the tool channel as
// its single strategy, and a manual update when it is absent.
func NewBrowserResolver(cfg *Config) *resolver.Resolver {
	return resolver.New(
		[]resolver.Strategy{resolver.NewToolChannelStrategy(cfg.ToolChannel.NewChannel())},
		resolver.WithExhaustion(resolver.ExhaustManual),
	)
}

// components is everything the server-side service is built from.
type components struct {
	service *Service
	cache   *cache.FileCache
	dbs     *databases
}

// newComponents wires the server-side service from configuration.
func newComponents(cfg *Config) (*components, error) {
	if err := cfg.ValidateOAuth(); err != nil {
		return nil, fmt.Errorf("oauth configuration: %w", err)
	}

	dbs := &databases{}
	fail := func(err error) (*components, error) {
		return nil, errors.Join(err, dbs.Close())
	}

	store, err := cfg.Auth.NewCredentialStore(dbs)
	if err != nil {
		return fail(fmt.Errorf("failed to create credential store: %w", err))
	}

	manager, err := cfg.Atlassian.NewManager()
	if err != nil {
		return fail(fmt.Errorf("failed to create token manager: %w", err))
	}

	snapshots, err := cache.Open(cfg.Cache.File)
	if err != nil {
		return fail(fmt.Errorf("failed to open snapshot cache: %w", err))
	}

	var recorder usage.Recorder
	if !cfg.Usage.Disabled {
		db, err := dbs.get(cfg.Usage.Database)
		if err != nil {
			return fail(fmt.Errorf("opening usage database: %w", err))
		}
		if recorder, err = usage.NewSQLRecorder(db); err != nil {
			return fail(err)
		}
	}

	oauth := resolver.NewOAuthStrategy(cfg.Auth.Principal, store, manager, cfg.Atlassian.NewClient(),
		resolver.WithTenant(cfg.Atlassian.CloudID, cfg.Atlassian.SiteURL),
	)
	res := resolver.New(
		[]resolver.Strategy{resolver.NewCacheStrategy(snapshots), oauth},
		resolver.WithExhaustion(resolver.ExhaustBridge),
		resolver.WithSnapshotCache(snapshots),
	)

	svc := NewService(res, cfg.Fields.NewMapping(),
		WithAuthorization(manager, store, cfg.Auth.Principal),
		WithUsage(recorder, cfg.Usage.Timeout),
		WithRetry(cfg.Retry),
	)

	return &components{service: svc, cache: snapshots, dbs: dbs}, nil
}
