package runs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/newsgraph/internal/data/repos/testutil"
	types "github.com/yungbote/newsgraph/internal/domain"
	"github.com/yungbote/newsgraph/internal/domain/newsletter"
)

func run(status types.RunStatus, sender string, created time.Time) *types.ProcessingRun {
	return &types.ProcessingRun{
		ID:              uuid.NewString(),
		Subject:         "AI Weekly",
		Sender:          sender,
		Status:          status,
		EntitiesTotal:   3,
		EntitiesCreated: 3,
		EntitySummary:   datatypes.JSON(`{"Organization":1,"Person":1,"Product":1}`),
		Warnings:        datatypes.JSON(`[]`),
		Metadata:        datatypes.JSON(`{}`),
		ReceivedDate:    created,
		CreatedAt:       created,
	}
}

func TestRunRepoCreateAndGet(t *testing.T) {
	db := testutil.DB(t)
	repo := NewRunRepo(db, testutil.Logger(t))
	ctx := context.Background()

	r := run(newsletter.RunSuccess, "news@example.com", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, nil, r))

	got, err := repo.GetByID(ctx, nil, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Subject, got.Subject)
	assert.Equal(t, newsletter.RunSuccess, got.Status)
	assert.JSONEq(t, `{"Organization":1,"Person":1,"Product":1}`, string(got.EntitySummary))

	_, err = repo.GetByID(ctx, nil, uuid.NewString())
	require.ErrorIs(t, err, newsletter.ErrNewsletterNotFound)
	_, err = repo.GetByID(ctx, nil, " ")
	require.ErrorIs(t, err, newsletter.ErrNewsletterNotFound)
}

func TestRunRepoListNewestFirstWithFilters(t *testing.T) {
	db := testutil.DB(t)
	repo := NewRunRepo(db, testutil.Logger(t))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	oldest := run(newsletter.RunSuccess, "a@example.com", base)
	middle := run(newsletter.RunError, "b@example.com", base.Add(time.Hour))
	newest := run(newsletter.RunSuccess, "a@example.com", base.Add(2*time.Hour))
	for _, r := range []*types.ProcessingRun{oldest, middle, newest} {
		require.NoError(t, repo.Create(ctx, nil, r))
	}

	all, err := repo.List(ctx, nil, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{newest.ID, middle.ID, oldest.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	limited, err := repo.List(ctx, nil, ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, newest.ID, limited[0].ID)

	failed, err := repo.List(ctx, nil, ListFilter{Status: newsletter.RunError})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, middle.ID, failed[0].ID)

	bySender, err := repo.List(ctx, nil, ListFilter{Sender: "a@example.com"})
	require.NoError(t, err)
	assert.Len(t, bySender, 2)
}

func TestRunRepoTxRollback(t *testing.T) {
	db := testutil.DB(t)
	repo := NewRunRepo(db, testutil.Logger(t))
	ctx := context.Background()

	tx := db.Begin()
	require.NoError(t, tx.Error)
	r := run(newsletter.RunSuccess, "x@example.com", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, tx, r))
	require.NoError(t, tx.Rollback().Error)

	_, err := repo.GetByID(ctx, nil, r.ID)
	require.ErrorIs(t, err, newsletter.ErrNewsletterNotFound)
}
