package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSecurityLevel_Dominance(t *testing.T) {
	require.True(t, SecurityMaximum.Dominates(SecurityHigh))
	require.True(t, SecurityHigh.Dominates(SecurityHigh))
	require.False(t, SecurityStandard.Dominates(SecurityHigh))
	require.True(t, SecurityCustom.Dominates(SecurityMaximum))
	require.True(t, SecurityDevelopment.Dominates(SecurityCustom))
}

func TestTemplate_InstantiateStampsIDAndExpiration(t *testing.T) {
	tmpl := Template{
		Name:            "test",
		DefaultLifetime: time.Hour,
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	capv := tmpl.Instantiate(now)

	require.NotEmpty(t, capv.ID)
	require.NotNil(t, capv.Expiration)
	require.Equal(t, now.Add(time.Hour), *capv.Expiration)
}

func TestTemplate_InstantiateNoLifetimeMeansNoExpiration(t *testing.T) {
	capv := Template{}.Instantiate(time.Now())
	require.Nil(t, capv.Expiration)
}

func TestManager_GrantFindRevoke(t *testing.T) {
	mgr := NewManager(false)
	capv := &Capability{ID: "c1", OpcodeType: OpcodeType{Category: "Arithmetic"}}
	mgr.Grant("dot-a", capv)

	found, ok := mgr.Find("dot-a", OpcodeType{Category: "Arithmetic"})
	require.True(t, ok)
	require.Equal(t, "c1", found.ID)

	_, ok = mgr.Find("dot-a", OpcodeType{Category: "Database"})
	require.False(t, ok)

	require.True(t, mgr.Revoke("dot-a", "c1"))
	_, ok = mgr.Find("dot-a", OpcodeType{Category: "Arithmetic"})
	require.False(t, ok)
}

func TestManager_DelegationDisabledByDefault(t *testing.T) {
	mgr := NewManager(false)
	mgr.Grant("dot-a", &Capability{ID: "c1", OpcodeType: OpcodeType{Category: "Arithmetic"}, Delegatable: true})

	_, ok := mgr.Delegate("dot-a", "dot-b", "c1")
	require.False(t, ok)
}

func TestManager_DelegationWhenEnabled(t *testing.T) {
	mgr := NewManager(true)
	mgr.Grant("dot-a", &Capability{ID: "c1", OpcodeType: OpcodeType{Category: "Arithmetic"}, Delegatable: true})

	delegated, ok := mgr.Delegate("dot-a", "dot-b", "c1")
	require.True(t, ok)
	require.NotEqual(t, "c1", delegated.ID)

	found, ok := mgr.Find("dot-b", OpcodeType{Category: "Arithmetic"})
	require.True(t, ok)
	require.Equal(t, delegated.ID, found.ID)
}

func TestManager_DelegationRequiresDelegatableSource(t *testing.T) {
	mgr := NewManager(true)
	mgr.Grant("dot-a", &Capability{ID: "c1", OpcodeType: OpcodeType{Category: "Arithmetic"}, Delegatable: false})

	_, ok := mgr.Delegate("dot-a", "dot-b", "c1")
	require.False(t, ok)
}

func TestCapability_ExpiredBoundary(t *testing.T) {
	now := time.Now()
	capv := &Capability{Expiration: &now}
	require.True(t, capv.Expired(now))
	require.True(t, capv.Expired(now.Add(time.Nanosecond)))
	require.False(t, capv.Expired(now.Add(-time.Nanosecond)))
}

func TestCapability_NoExpirationNeverExpires(t *testing.T) {
	capv := &Capability{}
	require.False(t, capv.Expired(time.Now().Add(100*365*24*time.Hour)))
}
