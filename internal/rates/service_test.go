package rates

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	mu    sync.Mutex
	rules []Rule
	calls int
}

func (s *countingSource) ListActiveRules(ctx context.Context, companyID uuid.UUID, scope Scope) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	var out []Rule
	for _, r := range s.rules {
		if r.CompanyID == companyID && r.Scope == scope {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *countingSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestService(t *testing.T, source RuleSource) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(source, NewRuleCache(client, time.Minute, nil), nil)
	svc.WithNow(func() time.Time { return asOf })
	return svc, mr
}

func TestServiceCachesRuleSets(t *testing.T) {
	source := &countingSource{rules: []Rule{rule(RuleTypeDefault, "", ModeFixedDiscount, "50", 100)}}
	svc, _ := newTestService(t, source)
	ctx := context.Background()

	req := opdRequest("", "")
	req.AsOf = time.Time{}
	for i := 0; i < 3; i++ {
		res, err := svc.Resolve(ctx, req)
		require.NoError(t, err)
		require.True(t, res.Price.Equal(dec("950")))
	}
	assert.Equal(t, 1, source.Calls())
}

func TestServiceInvalidateReloadsRules(t *testing.T) {
	source := &countingSource{rules: []Rule{rule(RuleTypeDefault, "", ModeFixedDiscount, "50", 100)}}
	svc, mr := newTestService(t, source)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, opdRequest("", ""))
	require.NoError(t, err)

	updated := rule(RuleTypeDefault, "", ModeFixedPrice, "500", 1)
	source.mu.Lock()
	source.rules = append(source.rules, updated)
	source.mu.Unlock()

	require.NoError(t, svc.InvalidateRules(ctx))
	ver, err := mr.Get(cacheVersionKey)
	require.NoError(t, err)
	assert.Equal(t, "2", ver)

	res, err := svc.Resolve(ctx, opdRequest("", ""))
	require.NoError(t, err)
	assert.Equal(t, updated.ID.String(), res.AppliedRuleID)
	assert.Equal(t, 2, source.Calls())
}

func TestServiceWithoutCacheHitsSource(t *testing.T) {
	source := &countingSource{}
	svc := NewService(source, nil, nil)
	for i := 0; i < 2; i++ {
		res, err := svc.Resolve(context.Background(), opdRequest("", ""))
		require.NoError(t, err)
		assert.Equal(t, ModeNone, res.Mode)
	}
	assert.Equal(t, 2, source.Calls())
}

func TestServiceRejectsInvalidRequest(t *testing.T) {
	svc, _ := newTestService(t, &countingSource{})
	_, err := svc.Resolve(context.Background(), Request{Scope: ScopeOPD})
	require.ErrorIs(t, err, ErrCompanyRequired)
}

func TestRuleCacheKeyCarriesVersion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewRuleCache(client, time.Minute, nil)
	ctx := context.Background()

	key, err := cache.Key(ctx, companyA, ScopeLAB)
	require.NoError(t, err)
	assert.Equal(t, "rates:rules:"+companyA.String()+":LAB:1", key)

	_, err = cache.Bump(ctx)
	require.NoError(t, err)
	key, err = cache.Key(ctx, companyA, ScopeLAB)
	require.NoError(t, err)
	assert.Equal(t, "rates:rules:"+companyA.String()+":LAB:2", key)
}

func TestRuleCacheServesLoaderWhenRedisFails(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewRuleCache(client, time.Minute, nil)
	ctx := context.Background()
	want := []Rule{rule(RuleTypeDefault, "", ModePercentDiscount, "10", 100)}

	mr.SetError("ERR cache offline")
	got, err := cache.FetchRules(ctx, "rates:rules:get", func(context.Context) ([]Rule, error) {
		return want, nil
	})
	require.NoError(t, err)
	assert.Equal(t, want[0].ID, got[0].ID)

	mr.SetError("")
	got, err = cache.FetchRules(ctx, "rates:rules:set", func(context.Context) ([]Rule, error) {
		mr.SetError("ERR cache offline")
		return want, nil
	})
	require.NoError(t, err)
	assert.Equal(t, want[0].ID, got[0].ID)
	mr.SetError("")
	assert.False(t, mr.Exists("rates:rules:set"))
}

func TestServiceResolvesWhenCachedEntryUnreadable(t *testing.T) {
	source := &countingSource{rules: []Rule{rule(RuleTypeDefault, "", ModeFixedDiscount, "50", 100)}}
	svc, mr := newTestService(t, source)
	ctx := context.Background()

	key, err := svc.cache.Key(ctx, companyA, ScopeOPD)
	require.NoError(t, err)
	// A hash at the key makes GET fail with WRONGTYPE.
	mr.HSet(key, "field", "value")

	for i := 0; i < 2; i++ {
		res, err := svc.Resolve(ctx, opdRequest("", ""))
		require.NoError(t, err)
		require.True(t, res.Price.Equal(dec("950")))
	}
	assert.Equal(t, 2, source.Calls())
}
