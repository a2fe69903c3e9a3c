package list_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/satdl/internal/app/list"
	"github.com/slok/satdl/internal/model"
	"github.com/slok/satdl/internal/storage/storagemock"
)

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		config list.ServiceConfig
		expErr bool
	}{
		"valid config": {
			config: list.ServiceConfig{Repository: &storagemock.MockRepository{}},
		},
		"missing repository": {
			config: list.ServiceConfig{},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			svc, err := list.NewService(test.config)
			if test.expErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func TestService_Run(t *testing.T) {
	createdAt := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	jobs := []model.Job{
		{ID: "01J00000000000000000000003", OwnerID: "alice", Status: model.JobStatusCompleted, CreatedAt: createdAt.Add(2 * time.Hour)},
		{ID: "01J00000000000000000000002", OwnerID: "alice", Status: model.JobStatusFailed, CreatedAt: createdAt.Add(time.Hour)},
		{ID: "01J00000000000000000000001", OwnerID: "alice", Status: model.JobStatusCompleted, CreatedAt: createdAt},
	}
	completed := model.JobStatusCompleted
	inProgress := model.JobStatusInProgress

	tests := map[string]struct {
		mockRepo func(m *storagemock.MockRepository)
		req      list.Request
		expJobs  []model.Job
		expErr   bool
	}{
		"list all jobs of the owner": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("ListJobs", mock.Anything, "alice").Once().Return(jobs, nil)
			},
			req:     list.Request{OwnerID: "alice"},
			expJobs: jobs,
		},
		"filter by status": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("ListJobs", mock.Anything, "alice").Once().Return(jobs, nil)
			},
			req:     list.Request{OwnerID: "alice", StatusFilter: &completed},
			expJobs: []model.Job{jobs[0], jobs[2]},
		},
		"filter without matches": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("ListJobs", mock.Anything, "alice").Once().Return(jobs, nil)
			},
			req:     list.Request{OwnerID: "alice", StatusFilter: &inProgress},
			expJobs: []model.Job{},
		},
		"missing owner": {
			mockRepo: func(m *storagemock.MockRepository) {},
			req:      list.Request{},
			expErr:   true,
		},
		"repository error": {
			mockRepo: func(m *storagemock.MockRepository) {
				m.On("ListJobs", mock.Anything, "alice").Once().Return(nil, fmt.Errorf("db error"))
			},
			req:    list.Request{OwnerID: "alice"},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			mRepo := &storagemock.MockRepository{}
			test.mockRepo(mRepo)

			svc, err := list.NewService(list.ServiceConfig{Repository: mRepo})
			require.NoError(err)

			got, err := svc.Run(context.Background(), test.req)
			if test.expErr {
				assert.Error(err)
			} else if assert.NoError(err) {
				assert.Equal(test.expJobs, got)
			}

			mRepo.AssertExpectations(t)
		})
	}
}
