package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-sec/argus/internal/store"
	"github.com/argus-sec/argus/pkg/types"
)

// ── network ────────────────────────────────────────────────────────────────

func TestSubnetResolver_Classification(t *testing.T) {
	r := NewSubnetResolver()

	tests := []struct {
		name     string
		ip       string
		internal bool
		subnet   string
	}{
		{"rfc1918 ten", "10.0.0.5", true, "10.0.0.0/24"},
		{"rfc1918 one seventy two", "172.16.4.20", true, "172.16.4.0/24"},
		{"rfc1918 one ninety two", "192.168.1.77", true, "192.168.1.0/24"},
		{"loopback", "127.0.0.1", true, "127.0.0.0/24"},
		{"link local", "169.254.10.3", true, "169.254.10.0/24"},
		{"public", "203.0.113.9", false, "203.0.113.0/24"},
		{"ipv6 public", "2001:db8::1", false, "2001:db8::/64"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ac, err := r.ResolveNetwork(context.Background(), tc.ip)
			require.NoError(t, err)
			assert.Equal(t, tc.internal, ac.Internal)
			assert.Equal(t, tc.subnet, ac.Subnet)
			if tc.internal {
				assert.Equal(t, "internal", ac.Reputation)
			}
		})
	}
}

func TestSubnetResolver_RejectsGarbage(t *testing.T) {
	r := NewSubnetResolver()
	_, err := r.ResolveNetwork(context.Background(), "not-an-ip")
	assert.Error(t, err)
}

// ── asset and user ─────────────────────────────────────────────────────────

type mockAssetDir struct {
	getFn func(context.Context, string) (*types.AssetContext, error)
}

func (m *mockAssetDir) GetAsset(ctx context.Context, id string) (*types.AssetContext, error) {
	return m.getFn(ctx, id)
}

type mockUserDir struct {
	getFn func(context.Context, string) (*types.UserContext, error)
}

func (m *mockUserDir) GetUser(ctx context.Context, name string) (*types.UserContext, error) {
	return m.getFn(ctx, name)
}

func TestDBAssetResolver_InventoryHit(t *testing.T) {
	want := &types.AssetContext{AssetID: "WEB-01", Criticality: "high", Owner: "platform", Environment: "production"}
	r := NewDBAssetResolver(&mockAssetDir{getFn: func(_ context.Context, id string) (*types.AssetContext, error) {
		require.Equal(t, "WEB-01", id)
		return want, nil
	}})

	got, err := r.ResolveAsset(context.Background(), "WEB-01")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDBAssetResolver_UnknownAssetSynthesized(t *testing.T) {
	r := NewDBAssetResolver(&mockAssetDir{getFn: func(context.Context, string) (*types.AssetContext, error) {
		return nil, store.ErrNotFound
	}})

	prod, err := r.ResolveAsset(context.Background(), "PROD-WEB-01")
	require.NoError(t, err)
	assert.Equal(t, "high", prod.Criticality)
	assert.Equal(t, "production", prod.Environment)

	dev, err := r.ResolveAsset(context.Background(), "dev-sandbox-3")
	require.NoError(t, err)
	assert.Equal(t, "low", dev.Criticality)

	// Same id, same answer: the fallback must be deterministic.
	again, err := r.ResolveAsset(context.Background(), "PROD-WEB-01")
	require.NoError(t, err)
	assert.Equal(t, prod, again)
}

func TestDBAssetResolver_LookupErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	r := NewDBAssetResolver(&mockAssetDir{getFn: func(context.Context, string) (*types.AssetContext, error) {
		return nil, boom
	}})

	_, err := r.ResolveAsset(context.Background(), "WEB-01")
	assert.ErrorIs(t, err, boom)
}

func TestDBUserResolver_UnknownUserSynthesized(t *testing.T) {
	r := NewDBUserResolver(&mockUserDir{getFn: func(context.Context, string) (*types.UserContext, error) {
		return nil, store.ErrNotFound
	}})

	admin, err := r.ResolveUser(context.Background(), "admin-jsmith")
	require.NoError(t, err)
	assert.Equal(t, "privileged", admin.Role)
	assert.Equal(t, "elevated", admin.RiskProfile)

	plain, err := r.ResolveUser(context.Background(), "mlopez")
	require.NoError(t, err)
	assert.Equal(t, "user", plain.Role)
	assert.Equal(t, "standard", plain.RiskProfile)
}

func TestDBUserResolver_DirectoryHit(t *testing.T) {
	want := &types.UserContext{UserName: "jsmith", Department: "finance", Role: "analyst", RiskProfile: "standard"}
	r := NewDBUserResolver(&mockUserDir{getFn: func(context.Context, string) (*types.UserContext, error) {
		return want, nil
	}})

	got, err := r.ResolveUser(context.Background(), "jsmith")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
