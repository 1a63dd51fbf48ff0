package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Alice", CanonicalizeName("alice"))
	require.Equal(t, "Alice", CanonicalizeName("  Alice  "))
	require.Equal(t, "Old timer", CanonicalizeName("old_timer"))
	require.Equal(t, "Ærøskøbing", CanonicalizeName("ærøskøbing"))
	require.Equal(t, "", CanonicalizeName("   "))
}

func TestValidName(t *testing.T) {
	t.Parallel()

	require.True(t, ValidName("Alice"))
	require.True(t, ValidName("Jack~enwiki"))
	require.False(t, ValidName(""))
	require.False(t, ValidName("a|b"))
	require.False(t, ValidName("a#b"))
	require.False(t, ValidName("a/b"))
	require.False(t, ValidName(strings.Repeat("x", 256)))
}

func TestGroupMembershipExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	require.False(t, GroupMembership{}.Expired(now))
	require.True(t, GroupMembership{ExpiresAt: &past}.Expired(now))
	require.False(t, GroupMembership{ExpiresAt: &future}.Expired(now))
}

func TestHiddenLevels(t *testing.T) {
	t.Parallel()

	require.False(t, GlobalIdentity{Hidden: HiddenNone}.IsHidden())
	require.False(t, GlobalIdentity{}.IsHidden())
	require.True(t, GlobalIdentity{Hidden: HiddenLists}.IsHidden())
	require.True(t, GlobalIdentity{Hidden: HiddenOversight}.IsHidden())
}

func TestCapabilityAllowsHide(t *testing.T) {
	t.Parallel()

	plain := CapabilitySet{CanLock: true}
	oversighter := CapabilitySet{CanLock: true, CanOversight: true}

	require.True(t, plain.AllowsHide(HiddenNone))
	require.True(t, plain.AllowsHide(HiddenLists))
	require.False(t, plain.AllowsHide(HiddenOversight))
	require.True(t, oversighter.AllowsHide(HiddenOversight))
}
