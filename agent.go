package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/dotside-studios/closet-nfc/closet"
	"github.com/dotside-studios/closet-nfc/closet/sqlstore"
	"github.com/dotside-studios/closet-nfc/closet/tagcache"
	"github.com/dotside-studios/closet-nfc/config"
	"github.com/dotside-studios/closet-nfc/events"
	"github.com/dotside-studios/closet-nfc/metrics"
	"github.com/dotside-studios/closet-nfc/nfc"
	"github.com/dotside-studios/closet-nfc/nfc/webnfc"
	"github.com/dotside-studios/closet-nfc/server"
	"github.com/dotside-studios/closet-nfc/tls"
)

func newLogger(component string) *log.Logger {
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}

// backend is the catalog with the connections behind it. The CLI tools use
// it on its own; the agent adds the NFC side on top.
type backend struct {
	store   *sqlstore.Store
	redis   *redis.Client
	events  events.Publisher
	catalog *closet.Catalog
	closers []io.Closer
}

func openBackend(ctx context.Context, cfg *config.Config, lookups closet.LookupObserver) (_ *backend, err error) {
	b := &backend{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	b.store, err = sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN, newLogger("store"))
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, b.store)

	var cache closet.Cache
	b.redis, err = tagcache.Dial(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	if b.redis != nil {
		b.closers = append(b.closers, b.redis)
		cache = tagcache.New(b.redis, cfg.Redis.TTL)
	}

	b.events, err = openPublishers(cfg)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, b.events)

	b.catalog = closet.NewCatalog(closet.Config{
		Store:   b.store,
		Cache:   cache,
		Events:  b.events,
		Logger:  newLogger("catalog"),
		Lookups: lookups,
	})
	return b, nil
}

func openPublishers(cfg *config.Config) (events.Publisher, error) {
	var pubs events.Multi
	if cfg.MQTT.Host != "" {
		p, err := events.NewMQTTPublisher(events.MQTTConfig{
			Host:        cfg.MQTT.Host,
			Port:        cfg.MQTT.Port,
			ClientID:    cfg.MQTT.ClientID,
			CACert:      cfg.MQTT.CACert,
			ClientCert:  cfg.MQTT.ClientCert,
			ClientKey:   cfg.MQTT.ClientKey,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, newLogger("mqtt"))
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if cfg.NATS.URL != "" {
		p, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, newLogger("nats"))
		if err != nil {
			pubs.Close()
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if len(pubs) == 0 {
		return events.Nop{}, nil
	}
	return pubs, nil
}

// Close releases connections in reverse order of opening.
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i].Close())
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Agent is the running closet-nfc service.
type Agent struct {
	Logger   *log.Logger
	Config   *config.Config
	Metrics  *metrics.Metrics
	Devices  *webnfc.Manager
	Sessions *nfc.Coordinator
	Server   *server.Server

	backend *backend
}

func NewAgent(ctx context.Context, cfg *config.Config) (*Agent, error) {
	a := &Agent{Logger: newLogger("agent"), Config: cfg}

	a.Devices = webnfc.NewManager(cfg.NFC.DeviceTimeout, newLogger("device"))
	a.Metrics = metrics.New(a.Devices.Count)

	b, err := openBackend(ctx, cfg, a.Metrics)
	if err != nil {
		a.Devices.Close()
		return nil, err
	}
	a.backend = b

	a.Sessions = nfc.NewCoordinator(nfc.CoordinatorConfig{
		Opener:   a.Devices,
		Resolver: b.catalog,
		Logger:   newLogger("session"),
		Observer: nfc.Observers{a.Metrics, events.NewSessionObserver(b.events, newLogger("events"))},
		Timings:  cfg.NFC.Timings(),
	})

	srvCfg := server.Config{
		Addr:           cfg.Server.Addr,
		Sessions:       a.Sessions,
		Catalog:        b.catalog,
		Devices:        a.Devices,
		Metrics:        a.Metrics.Handler(),
		MDNS:           cfg.Server.MDNS,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         newLogger("server"),
	}
	if cfg.Server.TLS.Enabled {
		certs := tls.NewManager(cfg.Server.TLS.Dir, newLogger("tls"))
		srvCfg.TLS, err = certs.ServerConfig()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("tls: %w", err)
		}
		srvCfg.CA = certs.CAHandler()
		if fp, err := certs.CAFingerprint(); err == nil {
			a.Logger.Printf("Install the CA from /ca.pem on each phone. Fingerprint (SHA256): %s", fp)
		}
	}
	a.Server = server.New(srvCfg)
	return a, nil
}

// Run serves until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	a.Logger.Printf("Agent starting on %s", a.Config.Server.Addr)
	err := a.Server.Start(ctx)
	a.Sessions.Cancel()
	return err
}

func (a *Agent) Close() error {
	a.Devices.Close()
	var err error
	if a.backend != nil {
		err = a.backend.Close()
	}
	a.Logger.Println("Agent stopped")
	return err
}
