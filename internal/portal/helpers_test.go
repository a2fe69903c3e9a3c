package portal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/browser/fake"
)

type fakePage = fake.Page

func fakeDriver(t *testing.T, page *fake.Page) *fake.Driver {
	t.Helper()
	d, err := fake.NewDriver(fake.DriverConfig{NewPage: func(int) *fake.Page { return page }})
	require.NoError(t, err)
	return d
}
