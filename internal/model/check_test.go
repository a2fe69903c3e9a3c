package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/satdl/internal/model"
)

func TestChecks(t *testing.T) {
	tests := map[string]struct {
		checks      model.Checks
		expWarnings int
		expFailed   bool
	}{
		"No checks don't fail.": {},

		"Warnings don't fail.": {
			checks: model.Checks{
				{ID: "database", Status: model.CheckStatusWarning},
				{ID: "api_tokens", Status: model.CheckStatusWarning},
				{ID: "browser", Status: model.CheckStatusOK},
			},
			expWarnings: 2,
		},

		"A single error fails.": {
			checks: model.Checks{
				{ID: "database", Status: model.CheckStatusOK},
				{ID: "browser", Status: model.CheckStatusError},
			},
			expFailed: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expWarnings, test.checks.Count(model.CheckStatusWarning))
			assert.Equal(t, test.expFailed, test.checks.Failed())
		})
	}
}
