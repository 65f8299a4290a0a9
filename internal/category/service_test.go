package category

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opina/server/internal/apperr"
	"github.com/opina/server/internal/model"
	"github.com/opina/server/internal/testutil"
)

func newTestService() (*Service, *testutil.Store) {
	store := testutil.NewStore(testutil.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	return NewService(store.Categories()), store
}

func TestService_Create(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	c, err := svc.Create(ctx, Input{Name: "  Sport "})
	require.NoError(t, err)
	assert.Equal(t, "Sport", c.Name)
	assert.Equal(t, DefaultColor, c.Color)

	_, err = svc.Create(ctx, Input{Name: "Sport", Color: "#FF0000"})
	assert.True(t, apperr.Is(err, apperr.Conflict))

	_, err = svc.Create(ctx, Input{Name: "Culture", Color: "red"})
	require.True(t, apperr.Is(err, apperr.Validation))
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Len(t, appErr.Fields, 1)
	assert.Equal(t, "couleur", appErr.Fields[0].Field)

	_, err = svc.Create(ctx, Input{Name: "   "})
	assert.True(t, apperr.Is(err, apperr.Validation))

	for _, color := range []string{"#FFF", "#FFFFFFFF", "3B82F6", "#GGGGGG"} {
		_, err = svc.Create(ctx, Input{Name: "Couleur " + color, Color: color})
		assert.True(t, apperr.Is(err, apperr.Validation), color)
	}
}

func TestService_Update(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	sport, err := svc.Create(ctx, Input{Name: "Sport"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Input{Name: "Culture"})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, sport.ID, Patch{Color: model.Some("#00ff00"), Description: model.Some("Tous les sports")})
	require.NoError(t, err)
	assert.Equal(t, "Sport", updated.Name)
	assert.Equal(t, "#00ff00", updated.Color)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "Tous les sports", *updated.Description)

	cleared, err := svc.Update(ctx, sport.ID, Patch{Description: model.Some("")})
	require.NoError(t, err)
	assert.Nil(t, cleared.Description)
	assert.Equal(t, "#00ff00", cleared.Color)

	_, err = svc.Update(ctx, sport.ID, Patch{Name: model.Some("Culture")})
	assert.True(t, apperr.Is(err, apperr.Conflict))

	same, err := svc.Update(ctx, sport.ID, Patch{Name: model.Some("Sport")})
	require.NoError(t, err)
	assert.Equal(t, "Sport", same.Name)

	_, err = svc.Update(ctx, sport.ID, Patch{Name: model.Some("")})
	assert.True(t, apperr.Is(err, apperr.Validation))

	_, err = svc.Update(ctx, 9999, Patch{})
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestService_Delete(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	used := store.SeedCategory("Politique")
	free := store.SeedCategory("Divers")
	admin := store.SeedUser("Admin", "admin@x.fr", nil, true)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	store.SeedPoll("Q1", admin.ID, &used.ID, start, start.Add(time.Hour), "A", "B")

	err := svc.Delete(ctx, used.ID)
	require.True(t, apperr.Is(err, apperr.Validation))
	assert.Contains(t, err.Error(), "1 sondage(s)")

	require.NoError(t, svc.Delete(ctx, free.ID))
	_, err = svc.Get(ctx, free.ID)
	assert.True(t, apperr.Is(err, apperr.NotFound))

	assert.True(t, apperr.Is(svc.Delete(ctx, free.ID), apperr.NotFound))
}

func TestService_ListOrderedByName(t *testing.T) {
	svc, store := newTestService()
	store.SeedCategory("Zoo")
	store.SeedCategory("Art")

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Art", list[0].Name)
}
