package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrospeak/agrospeak/internal/fallback"
)

const (
	currentJSON = `{"latitude":-15.39,"longitude":28.32,"timezone":"Africa/Lusaka",
		"current_weather":{"temperature":24.6,"windspeed":10,"winddirection":90,"weathercode":3,"is_day":1,"time":"2026-01-10T12:00","message":"Overcast"}}`
	dailyJSON = `{"daily":{"time":["2026-01-10","2026-01-11"],"temperature_2m_max":[28.4,27],"temperature_2m_min":[17.2,16.6],
		"precipitation_sum":[12.5,0],"weathercode":[63,1],"messages":["Moderate rain",""]}}`
	soilJSON = `{"hourly":{"time":["t0","t1","t2"],"soil_temperature_0_to_7cm":[18,20,22],"soil_moisture_0_to_7cm":[10,50,90]}}`
)

type backend struct {
	*httptest.Server
	hits atomic.Int32
}

func newBackend(t *testing.T, soilStatus int) *backend {
	t.Helper()
	b := &backend{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/weather/current", func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		assert.Equal(t, "-15.3875", r.URL.Query().Get("latitude"))
		_, _ = w.Write([]byte(currentJSON))
	})
	mux.HandleFunc("/api/v1/weather/daily", func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		assert.Equal(t, "5", r.URL.Query().Get("days"))
		_, _ = w.Write([]byte(dailyJSON))
	})
	mux.HandleFunc("/api/v1/weather/soil", func(w http.ResponseWriter, _ *http.Request) {
		b.hits.Add(1)
		if soilStatus != http.StatusOK {
			w.WriteHeader(soilStatus)
			return
		}
		_, _ = w.Write([]byte(soilJSON))
	})
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func TestCurrentTransforms(t *testing.T) {
	b := newBackend(t, http.StatusOK)
	c := NewClient(b.URL, 5*time.Second)

	cur, err := c.Current(context.Background(), -15.3875, 28.3228)
	require.NoError(t, err)
	assert.Equal(t, 25, cur.Temperature)
	assert.Equal(t, 76, cur.TemperatureF)
	assert.Equal(t, 6, cur.WindSpeedMph)
	assert.Equal(t, "Overcast", cur.Condition)
	assert.Equal(t, "cloudy", cur.Icon)
	assert.True(t, cur.IsDay)
	assert.Equal(t, "Africa/Lusaka", cur.Timezone)
}

func TestDailyTransforms(t *testing.T) {
	b := newBackend(t, http.StatusOK)
	c := NewClient(b.URL, 5*time.Second)

	days, err := c.Daily(context.Background(), -15.3875, 28.3228)
	require.NoError(t, err)
	require.Len(t, days, 2)

	assert.Equal(t, 28, days[0].MaxTemp)
	assert.Equal(t, 17, days[0].MinTemp)
	assert.Equal(t, 11, days[0].TempRange)
	assert.InDelta(t, 0.49, days[0].PrecipitationInches, 1e-9)
	assert.Equal(t, "rainy", days[0].Icon)
	assert.Equal(t, "Moderate rain", days[0].Condition)

	assert.Equal(t, "Unknown", days[1].Condition)
	assert.Equal(t, "partly-sunny", days[1].Icon)
}

func TestSoilUsesCurrentHour(t *testing.T) {
	b := newBackend(t, http.StatusOK)
	c := NewClient(b.URL, 5*time.Second)
	c.now = func() time.Time { return time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC) }

	soil, err := c.Soil(context.Background(), -15.3875, 28.3228)
	require.NoError(t, err)
	assert.Equal(t, "t1", soil.Current.Time)
	assert.Len(t, soil.Hourly, 3)
	assert.Equal(t, []Insight{{InsightSuccess, "Optimal soil temperature for most crops", "checkmark-circle"}, {InsightSuccess, "Good soil moisture levels", "leaf"}}, soil.Insights)

	// Late hours clamp to the last reading.
	c2 := NewClient(b.URL, 5*time.Second)
	c2.now = func() time.Time { return time.Date(2026, 1, 10, 23, 0, 0, 0, time.UTC) }
	soil, err = c2.Soil(context.Background(), -15.3875, 28.3228)
	require.NoError(t, err)
	assert.Equal(t, "t2", soil.Current.Time)
}

func TestForLocationSoilOptional(t *testing.T) {
	b := newBackend(t, http.StatusInternalServerError)
	c := NewClient(b.URL, 5*time.Second)

	r, err := c.ForLocation(context.Background(), -15.3875, 28.3228)
	require.NoError(t, err)
	assert.NotNil(t, r.Current)
	assert.Len(t, r.Forecast, 2)
	assert.Nil(t, r.Soil)
}

func TestForLocationCurrentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).ForLocation(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Equal(t, fallback.Status, fallback.Classify(err))
}

func TestMissingBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Current(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestMemoryCacheAvoidsRefetch(t *testing.T) {
	b := newBackend(t, http.StatusOK)
	cache := NewMemoryCache()
	c := NewClient(b.URL, 5*time.Second, WithCache(cache, 10*time.Minute))

	_, err := c.Current(context.Background(), -15.3875, 28.3228)
	require.NoError(t, err)
	cur, err := c.Current(context.Background(), -15.3875, 28.3228)
	require.NoError(t, err)
	assert.Equal(t, 25, cur.Temperature)
	assert.Equal(t, int32(1), b.hits.Load())

	// Expire the entry.
	cache.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	_, err = c.Current(context.Background(), -15.3875, 28.3228)
	require.NoError(t, err)
	assert.Equal(t, int32(2), b.hits.Load())
}

func TestMemoryCacheSweepsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	cache := NewMemoryCache()
	cache.now = func() time.Time { return now }

	for i := 0; i < 1000; i++ {
		require.NoError(t, cache.Set(ctx, fmt.Sprintf("current_%d", i), []byte("x"), 10*time.Minute))
	}
	require.NoError(t, cache.Set(ctx, "pinned", []byte("x"), 0))
	assert.Equal(t, 1001, cache.Len())

	now = now.Add(24 * time.Hour)
	require.NoError(t, cache.Set(ctx, "fresh", []byte("y"), 10*time.Minute))
	assert.Equal(t, 2, cache.Len())

	_, ok, err := cache.Get(ctx, "pinned")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCacheSweepIsRateLimited(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	cache := NewMemoryCache()
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(ctx, "a", []byte("x"), time.Second))
	now = now.Add(2 * time.Second)
	require.NoError(t, cache.Set(ctx, "b", []byte("x"), time.Hour))
	assert.Equal(t, 2, cache.Len(), "no sweep within the interval")

	now = now.Add(sweepInterval)
	require.NoError(t, cache.Set(ctx, "c", []byte("x"), time.Hour))
	assert.Equal(t, 2, cache.Len())
}

func TestNearbyCoordinatesShareCacheEntry(t *testing.T) {
	b := newBackend(t, http.StatusOK)
	cache := NewMemoryCache()
	c := NewClient(b.URL, 5*time.Second, WithCache(cache, 10*time.Minute))

	_, err := c.Current(context.Background(), -15.3875, 28.3228)
	require.NoError(t, err)
	_, err = c.Current(context.Background(), -15.3875, 28.32284)
	require.NoError(t, err)
	assert.Equal(t, int32(1), b.hits.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestCellCoord(t *testing.T) {
	assert.Equal(t, "-15.388", cellCoord(-15.38762))
	assert.Equal(t, "28.323", cellCoord(28.32282))
	assert.Equal(t, "0.000", cellCoord(-0.0001))
}

func TestRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	b := newBackend(t, http.StatusOK)
	c := NewClient(b.URL, 5*time.Second, WithCache(NewRedisCache(client), 10*time.Minute))

	days, err := c.Daily(context.Background(), -15.3875, 28.3228)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.True(t, mr.Exists(redisKeyPrefix+"daily_-15.3875_28.3228_5"))

	days, err = c.Daily(context.Background(), -15.3875, 28.3228)
	require.NoError(t, err)
	assert.Equal(t, 28, days[0].MaxTemp)
	assert.Equal(t, int32(1), b.hits.Load())

	mr.FastForward(11 * time.Minute)
	_, _, err = NewRedisCache(client).Get(context.Background(), "daily_-15.3875_28.3228_5")
	require.NoError(t, err)
	assert.False(t, mr.Exists(redisKeyPrefix+"daily_-15.3875_28.3228_5"))
}

func TestIcon(t *testing.T) {
	assert.Equal(t, "sunny", Icon(0, true))
	assert.Equal(t, "moon", Icon(0, false))
	assert.Equal(t, "cloudy-night", Icon(1, false))
	assert.Equal(t, "thunderstorm", Icon(95, true))
	assert.Equal(t, "cloudy", Icon(1234, true))
}

func TestSoilInsights(t *testing.T) {
	tests := []struct {
		temp, moisture float64
		want           []string
	}{
		{2, 50, []string{"Soil temperature too low for most crops", "Good soil moisture levels"}},
		{38, 10, []string{"Soil temperature very high - consider irrigation", "Low soil moisture - irrigation recommended"}},
		{20, 85, []string{"Optimal soil temperature for most crops", "High soil moisture - monitor for waterlogging"}},
		{10, 20, []string{"Good soil moisture levels"}},
	}
	for _, tt := range tests {
		var got []string
		for _, in := range SoilInsights(tt.temp, tt.moisture) {
			got = append(got, in.Message)
		}
		assert.Equal(t, tt.want, got)
	}
}
