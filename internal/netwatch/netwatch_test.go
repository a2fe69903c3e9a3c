package netwatch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/browser"
	"github.com/slok/satdl/internal/browser/fake"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/netwatch"
)

func TestRecorder(t *testing.T) {
	ctx := context.Background()

	page := fake.NewPage()
	page.ExtraRequests = []string{
		"https://www.google-analytics.com/collect",
		"https://www.google-analytics.com/collect",
		"data:image/png;base64,AAAA",
	}
	d, err := fake.NewDriver(fake.DriverConfig{NewPage: func(int) *fake.Page { return page }})
	require.NoError(t, err)
	s, err := d.NewSession(ctx, browser.SessionOptions{ID: "job-1"})
	require.NoError(t, err)

	rec, err := netwatch.NewRecorder(netwatch.RecorderConfig{
		Policy: model.EgressPolicy{
			Default: model.EgressActionDeny,
			Rules:   []model.EgressRule{{Domain: "*.sat.gob.mx", Action: model.EgressActionAllow}},
		},
	})
	require.NoError(t, err)

	w := rec.Install("job-1", s)
	require.NoError(t, s.Navigate(ctx, "https://portalcfdi.facturaelectronica.sat.gob.mx/"))
	rep := w.Uninstall()

	// Uninstalled watches don't record anymore.
	require.NoError(t, s.Navigate(ctx, "https://portalcfdi.facturaelectronica.sat.gob.mx/other"))
	again := w.Uninstall()

	exp := netwatch.Report{
		Requests: 3,
		Hosts: map[string]int{
			"portalcfdi.facturaelectronica.sat.gob.mx": 1,
			"www.google-analytics.com":                 2,
		},
		Violations: []string{"www.google-analytics.com"},
	}
	assert.Equal(t, exp, rep)
	assert.Equal(t, exp, again)
}

func TestNewRecorderInvalidPolicy(t *testing.T) {
	_, err := netwatch.NewRecorder(netwatch.RecorderConfig{
		Policy: model.EgressPolicy{
			Default: model.EgressActionDeny,
			Rules:   []model.EgressRule{{Domain: "a.test", CIDR: "10.0.0.0/8", Action: model.EgressActionAllow}},
		},
	})
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	rep := netwatch.Noop.Install("job-1", nil).Uninstall()
	assert.Zero(t, rep.Requests)
}
