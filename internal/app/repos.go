package app

import (
	"fmt"

	"github.com/yungbote/newsgraph/internal/data/db"
	"github.com/yungbote/newsgraph/internal/data/repos"
)

func (a *App) wireRepos() error {
	a.Log.Info("Wiring run ledger...")
	svc, err := db.Open(db.Config{
		Driver: a.Cfg.DB.Driver,
		DSN:    a.Cfg.DB.DSN,
		Silent: a.Cfg.Environment == "test",
	}, a.Log)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	a.Ledger = svc
	return nil
}

func (a *App) runRepo() repos.RunRepo {
	if a.Ledger == nil {
		return nil
	}
	return repos.NewRunRepo(a.Ledger.DB(), a.Log)
}
