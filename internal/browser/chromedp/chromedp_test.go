package chromedp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/browser"
	"github.com/slok/satdl/internal/browser/chromedp"
)

const testPage = `<html><body>
<input id="rfc" />
<button id="go" onclick="document.getElementById('ok').style.display='block'">go</button>
<div id="ok" style="display:none">Welcome</div>
<table id="results"><tr class="row"><td>A</td></tr><tr class="row"><td>B</td></tr></table>
</body></html>`

// Real browser tests only run when explicitly enabled.
func newSession(t *testing.T) browser.Session {
	t.Helper()
	if os.Getenv("SATDL_TEST_CHROME") == "" {
		t.Skip("SATDL_TEST_CHROME not set, skipping real browser tests")
	}

	d, err := chromedp.NewDriver(chromedp.DriverConfig{Headless: true, NoSandbox: true})
	require.NoError(t, err)

	s, err := d.NewSession(context.Background(), browser.SessionOptions{
		ID:          "test",
		DownloadDir: filepath.Join(t.TempDir(), "downloads"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionInteractions(t *testing.T) {
	s := newSession(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testPage))
	}))
	defer srv.Close()

	ctx := context.Background()
	var mu sync.Mutex
	var requests []string
	stop := s.Listen(func(r browser.Request) {
		mu.Lock()
		defer mu.Unlock()
		requests = append(requests, r.URL)
	})
	defer stop()

	require.NoError(t, s.Navigate(ctx, srv.URL))
	require.NoError(t, s.Fill(ctx, "#rfc", "XAXX010101000"))

	ok, err := s.Exists(ctx, "#ok")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Click(ctx, "#go"))
	require.NoError(t, s.WaitVisible(ctx, "#ok", 5*time.Second))

	text, err := s.Text(ctx, "#ok")
	require.NoError(t, err)
	assert.Equal(t, "Welcome", text)

	n, err := s.Count(ctx, "#results tr.row")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	err = s.WaitVisible(ctx, "#missing", 200*time.Millisecond)
	assert.ErrorIs(t, err, browser.ErrTimeout)

	img, err := s.Screenshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, img)

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, requests)
}
