package pipeline

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"smartdns/rule"
)

func TestClientRuleMWAppliesGroupAndNoCache(t *testing.T) {
	table := rule.NewClientRuleTable([]rule.ClientRule{
		{CIDR: netip.MustParsePrefix("10.0.0.0/8"), Group: "office", NoCache: true},
	})
	mw := &ClientRuleMW{Table: table}

	rc := newQueryContext("example.com", 1)
	rc.ClientIP = netip.MustParseAddr("10.1.2.3")

	resp, err := mw.Handle(context.Background(), rc)
	require.NoError(t, err)
	require.Nil(t, resp)
	require.Equal(t, "office", rc.ChosenGroup)
	require.True(t, rc.NoCache)
}

func TestClientRuleMWNoMatchLeavesDefaults(t *testing.T) {
	table := rule.NewClientRuleTable([]rule.ClientRule{
		{CIDR: netip.MustParsePrefix("10.0.0.0/8"), Group: "office"},
	})
	mw := &ClientRuleMW{Table: table}

	rc := newQueryContext("example.com", 1)
	rc.ClientIP = netip.MustParseAddr("192.168.1.1")

	_, err := mw.Handle(context.Background(), rc)
	require.NoError(t, err)
	require.Equal(t, "", rc.ChosenGroup)
	require.False(t, rc.NoCache)
}
