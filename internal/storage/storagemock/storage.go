package storagemock

import "github.com/slok/satdl/internal/storage"

//go:generate mockery --case underscore --output . --outpkg storagemock --name Repository --srcpkg github.com/slok/satdl/internal/storage --structname MockRepository
//go:generate mockery --case underscore --output . --outpkg storagemock --name ChangeFeed --srcpkg github.com/slok/satdl/internal/storage --structname MockChangeFeed

var (
	_ storage.Repository = &MockRepository{}
	_ storage.ChangeFeed = &MockChangeFeed{}
)
