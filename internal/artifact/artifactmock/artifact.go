package artifactmock

import "github.com/slok/satdl/internal/artifact"

//go:generate mockery --case underscore --output . --outpkg artifactmock --name Store --srcpkg github.com/slok/satdl/internal/artifact --structname MockStore

var _ artifact.Store = &MockStore{}
