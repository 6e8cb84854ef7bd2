package cmd

import (
	"context"
	"database/sql"
	"time"

	"novelarr/internal/buildinfo"
	"novelarr/internal/cache"
	"novelarr/internal/challenge"
	"novelarr/internal/config"
	"novelarr/internal/database"
	"novelarr/internal/domain"
	"novelarr/internal/logger"
	"novelarr/internal/provider"
	"novelarr/internal/session"

	"github.com/pkg/errors"
)

// app wires config, logger, database and the stores together for the
// commands that talk to a provider.
type app struct {
	cfg *config.AppConfig
	log logger.Logger
	db  *sql.DB

	sessions *session.Store
	cache    *cache.Store
	bridge   *challenge.Bridge
}

func newApp() (*app, error) {
	cfg := config.New(configPath, buildinfo.Version)
	log := logger.New(cfg.Config)

	if err := cfg.UpdateConfig(); err != nil {
		log.Error().Err(err).Msgf("error updating config")
	}
	cfg.DynamicReload(log)

	db, err := database.Open(cfg.Config.DatabasePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		sessions: session.NewStore(db, log),
		cache:    cache.NewStore(db, log),
		bridge:   challenge.NewBridge(log),
	}, nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *app) provider(name string) (domain.Provider, error) {
	return provider.New(name, provider.Deps{
		Sessions:         a.sessions,
		Bridge:           a.bridge,
		Log:              a.log,
		ChallengeTimeout: time.Duration(a.cfg.Config.ChallengeTimeout) * time.Second,
	})
}

// login authenticates with the stored credential and persists the new
// session.
func (a *app) login(ctx context.Context, prov domain.Provider) error {
	cred, err := a.sessions.Credential(prov.Name())
	if err != nil {
		return err
	}

	sess, err := prov.Login(ctx, cred)
	if err != nil {
		return err
	}

	return a.sessions.Save(sess)
}

// ensureSession logs in when no usable session is stored, so commands
// can assume authenticated state.
func (a *app) ensureSession(ctx context.Context, prov domain.Provider) error {
	sess, err := a.sessions.Get(prov.Name())
	if err != nil {
		return err
	}
	if sess != nil {
		return nil
	}

	return a.login(ctx, prov)
}
