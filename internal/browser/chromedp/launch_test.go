package chromedp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/browser"
)

func TestLaunch(t *testing.T) {
	errCrash := errors.New("chrome crashed")
	blocked := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	tests := map[string]struct {
		cancelCaller bool
		allocate     func(ctx context.Context) error
		expErr       error
	}{
		"A started browser should be returned.": {
			allocate: func(context.Context) error { return nil },
		},

		"A browser that can't start should fail.": {
			allocate: func(context.Context) error { return errCrash },
			expErr:   errCrash,
		},

		"A browser that takes too long should time out.": {
			allocate: blocked,
			expErr:   browser.ErrTimeout,
		},

		"A caller giving up should stop waiting.": {
			cancelCaller: true,
			allocate:     blocked,
			expErr:       context.Canceled,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if test.cancelCaller {
				cancel()
			}
			browserCtx, browserCancel := context.WithCancel(context.Background())
			defer browserCancel()

			err := launch(ctx, browserCtx, 50*time.Millisecond, test.allocate)
			assert.ErrorIs(t, err, test.expErr)
		})
	}
}

func TestLaunchKeepsTheBrowserAfterCreation(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	browserCtx, browserCancel := context.WithCancel(context.Background())
	defer browserCancel()

	var allocCtx context.Context
	err := launch(ctx, browserCtx, time.Second, func(ctx context.Context) error {
		allocCtx = ctx
		return nil
	})
	require.NoError(err)

	// The creation context ending must not end the browser.
	cancel()
	require.NotNil(allocCtx)
	require.NoError(allocCtx.Err())

	browserCancel()
	require.ErrorIs(allocCtx.Err(), context.Canceled)
}
