package main

import (
	"errors"

	"github.com/fyrsmithlabs/reqgate/internal/config"
	"github.com/fyrsmithlabs/reqgate/internal/learning"
	"github.com/fyrsmithlabs/reqgate/internal/storage"
)

// Process exit codes.
const (
	exitOK             = 0
	exitError          = 1
	exitBlocked        = 2
	exitConfig         = 3
	exitStorage        = 4
	exitRollbackTarget = 5
)

// errBlocked is returned by commands whose action the gate refused. The
// reason has already been printed.
var errBlocked = errors.New("blocked")

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errBlocked):
		return exitBlocked
	case errors.Is(err, config.ErrConfig):
		return exitConfig
	case errors.Is(err, storage.ErrStorageUnavailable):
		return exitStorage
	case errors.Is(err, learning.ErrRollback), errors.Is(err, learning.ErrEntryNotFound):
		return exitRollbackTarget
	}
	return exitError
}
