package memstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/domain"
	"notespace/internal/remote"
	"notespace/internal/remote/memstore"
	"notespace/internal/remote/remotetest"
)

func TestConformance(t *testing.T) {
	remotetest.Run(t, func(*testing.T) remote.Backend { return memstore.New() })
}

func TestFailNext_SurfacesAsTransportFailure(t *testing.T) {
	ctx := context.Background()
	store, backend := memstore.NewStore(remote.Options{Logger: zerolog.Nop()})
	ws := domain.NewWorkspace(&domain.CounterClock{}, "W", "u1")
	require.NoError(t, store.CreateWorkspace(ctx, "u1", ws))

	p := domain.NewPage(&domain.CounterClock{Start: 10}, ws.ID, "")
	p.UpdatedBy = "u1"
	backend.FailNext(errors.New("connection reset"))
	res := store.SavePage(ctx, ws.ID, p, nil)
	assert.Equal(t, remote.Failure, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrTransport)

	res = store.SavePage(ctx, ws.ID, p, nil)
	assert.Equal(t, remote.Success, res.Outcome)
}

func TestSavePage_RejectsDuplicateBlockIDs(t *testing.T) {
	ctx := context.Background()
	store, _ := memstore.NewStore(remote.Options{Logger: zerolog.Nop()})
	ws := domain.NewWorkspace(&domain.CounterClock{}, "W", "u1")
	require.NoError(t, store.CreateWorkspace(ctx, "u1", ws))

	p := domain.NewPage(&domain.CounterClock{Start: 10}, ws.ID, "")
	p.UpdatedBy = "u1"
	p.Blocks = append(p.Blocks, p.Blocks[0])
	res := store.SavePage(ctx, ws.ID, p, nil)
	assert.Equal(t, remote.Failure, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrValidation)
}
