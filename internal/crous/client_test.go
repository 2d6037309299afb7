package crous

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kb-dev/ukit-sync/internal/cache"
	"github.com/kb-dev/ukit-sync/internal/store"
)

func newTestService(t *testing.T, handler http.Handler) (*Service, *store.MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st := store.NewMemoryStore()
	probe := cache.ProbeFunc(func(context.Context) bool { return true })
	return NewService(cache.NewFetcher(st, probe, nil), srv.URL), st
}

func TestRestaurants_SortedByDistance(t *testing.T) {
	svc, st := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/regions/1/restaurants", r.URL.Path)
		w.Write([]byte(`{"data":[
			{"code":100,"nom":"Resto Nord","zone":"Talence","latitude":44.9,"longitude":-0.6,"horaires":["11h30-14h"]},
			{"code":200,"nom":"Resto Campus","zone":"Pessac","latitude":44.8,"longitude":-0.61,"horaires":[]}
		]}`))
	}))

	lat, lon := 44.8, -0.61
	res, err := svc.Restaurants(context.Background(), &lat, &lon)
	require.NoError(t, err)
	require.Len(t, res.Data, 2)

	// Nearest first: Resto Campus sits exactly at the caller's position.
	assert.Equal(t, "200", res.Data[0].ID)
	assert.Equal(t, "Resto Campus", res.Data[0].Title)
	require.NotNil(t, res.Data[0].DistanceKm)
	assert.InDelta(t, 0, *res.Data[0].DistanceKm, 0.01)
	assert.Equal(t, "Horaires non spécifiés", res.Data[0].Opening)

	assert.Equal(t, "100", res.Data[1].ID)
	assert.Equal(t, "11h30-14h", res.Data[1].Opening)

	assert.Contains(t, st.Keys(), "crous:restaurants")
}

func TestRestaurants_NoPositionKeepsOrder(t *testing.T) {
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"code":100,"nom":"Far","latitude":44.9,"longitude":-0.6},
			{"code":200,"nom":"Near","latitude":44.8,"longitude":-0.61}
		]}`))
	}))

	res, err := svc.Restaurants(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	assert.Equal(t, "100", res.Data[0].ID)
	assert.Nil(t, res.Data[0].DistanceKm)
}

func TestMenus_NormalizesDates(t *testing.T) {
	svc, st := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/restaurants/200/menu", r.URL.Path)
		w.Write([]byte(`{"data":[
			{"date":"25-03-2024","repas":[
				{"type":"midi","categories":[
					{"libelle":"Plats du jour","plats":[{"libelle":"Poulet basquaise"},{"libelle":"Gratin"}]}
				]},
				{"type":"soir","categories":[
					{"libelle":"","plats":[{"libelle":"Soupe"}]}
				]}
			]}
		]}`))
	}))

	res, err := svc.Menus(context.Background(), "200")
	require.NoError(t, err)
	require.Len(t, res.Data, 1)

	day := res.Data[0]
	assert.Equal(t, "2024-03-25", day.Date)
	require.Len(t, day.Lunch, 1)
	assert.Equal(t, "Plats du jour", day.Lunch[0].Name)
	assert.Equal(t, []string{"Poulet basquaise", "Gratin"}, day.Lunch[0].Dishes)
	require.Len(t, day.Dinner, 1)
	assert.Equal(t, "Catégorie", day.Dinner[0].Name)

	assert.Contains(t, st.Keys(), "crous:menu:200")
}

func TestMenus_ServerErrorWithoutCache(t *testing.T) {
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := svc.Menus(context.Background(), "200")
	assert.ErrorIs(t, err, cache.ErrNoData)
}

func TestNormalizeDate(t *testing.T) {
	assert.Equal(t, "2024-03-25", normalizeDate("25-03-2024"))
	assert.Equal(t, "2024-03-25", normalizeDate("2024-03-25"))
	assert.Equal(t, "garbage", normalizeDate("garbage"))
}
