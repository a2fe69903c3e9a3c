package captcha_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/app/captcha"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage/storagemock"
)

func TestService_Run(t *testing.T) {
	jobID := "01J00000000000000000000001"
	cs := &model.CaptchaSession{ID: "cs1", JobID: jobID, Image: []byte("png")}

	tests := map[string]struct {
		mockRepo func(m *storagemock.MockRepository)
		req      captcha.Request
		expCS    *model.CaptchaSession
		expErr   error
	}{
		"active challenge of the owner job": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("GetJob", mock.Anything, jobID).Once().Return(&model.Job{ID: jobID, OwnerID: "alice"}, nil)
				m.On("GetActiveCaptchaSession", mock.Anything, jobID).Once().Return(cs, nil)
			},
			req:   captcha.Request{OwnerID: "alice", JobID: jobID},
			expCS: cs,
		},
		"job without challenge": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("GetJob", mock.Anything, jobID).Once().Return(&model.Job{ID: jobID, OwnerID: "alice"}, nil)
				m.On("GetActiveCaptchaSession", mock.Anything, jobID).Once().Return(nil, model.ErrNotFound)
			},
			req:    captcha.Request{OwnerID: "alice", JobID: jobID},
			expErr: model.ErrNotFound,
		},
		"job of another owner": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("GetJob", mock.Anything, jobID).Once().Return(&model.Job{ID: jobID, OwnerID: "bob"}, nil)
			},
			req:    captcha.Request{OwnerID: "alice", JobID: jobID},
			expErr: model.ErrNotFound,
		},
		"repository error": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("GetJob", mock.Anything, jobID).Once().Return(&model.Job{ID: jobID, OwnerID: "alice"}, nil)
				m.On("GetActiveCaptchaSession", mock.Anything, jobID).Once().Return(nil, fmt.Errorf("db error"))
			},
			req:    captcha.Request{OwnerID: "alice", JobID: jobID},
			expErr: fmt.Errorf("db error"),
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			mRepo := &storagemock.MockRepository{}
			test.mockRepo(mRepo)

			svc, err := captcha.NewService(captcha.ServiceConfig{Repository: mRepo})
			require.NoError(t, err)

			got, err := svc.Run(context.Background(), test.req)
			switch {
			case test.expErr == nil:
				require.NoError(t, err)
				assert.Equal(t, test.expCS, got)
			case test.expErr == model.ErrNotFound:
				assert.ErrorIs(t, err, model.ErrNotFound)
			default:
				assert.Error(t, err)
			}

			mRepo.AssertExpectations(t)
		})
	}
}
