package jobmock

import "github.com/slok/satdl/internal/job"

//go:generate mockery --case underscore --output . --outpkg jobmock --name Launcher --srcpkg github.com/slok/satdl/internal/job --structname MockLauncher

var _ job.Launcher = &MockLauncher{}
