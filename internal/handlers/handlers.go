package handlers

import (
	"mediaref/internal/database"
	"mediaref/internal/duplicates"
	"mediaref/internal/indexer"
	"mediaref/internal/jobs"
	"mediaref/internal/rename"
)

// Handlers serves the action endpoint and the operational routes.
type Handlers struct {
	db        *database.Database
	indexer   *indexer.Indexer
	scheduler *jobs.Scheduler
	detector  *duplicates.Detector
	renamer   *rename.Engine
	tokens    *TokenVerifier
	actions   map[Action]actionFunc
}

// Deps are the components the handlers dispatch to.
type Deps struct {
	DB        *database.Database
	Indexer   *indexer.Indexer
	Scheduler *jobs.Scheduler
	Detector  *duplicates.Detector
	Renamer   *rename.Engine
	// Tokens checks the request token. Nil accepts every request.
	Tokens *TokenVerifier
}

func New(d Deps) *Handlers {
	h := &Handlers{
		db:        d.DB,
		indexer:   d.Indexer,
		scheduler: d.Scheduler,
		detector:  d.Detector,
		renamer:   d.Renamer,
		tokens:    d.Tokens,
	}
	h.actions = h.registry()
	return h
}
