package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostalgiatan/bey-sub000/config"
	"github.com/nostalgiatan/bey-sub000/pkg/identity"
	"github.com/nostalgiatan/bey-sub000/pkg/policy"
	"github.com/nostalgiatan/bey-sub000/pkg/token"
)

func testIdentityConfig() *config.IdentityConfig {
	cfg := &config.IdentityConfig{}
	full := config.Default()
	*cfg = *full.Identity
	cfg.KeySize = 2048
	cfg.MaxCertificateChainLen = 3
	return cfg
}

func TestBuildTLSConfigs_DeriveFromSharedCA(t *testing.T) {
	ca, err := identity.NewCA(t.TempDir(), testIdentityConfig(), nil)
	require.NoError(t, err)

	deviceA, err := ca.Issue("device-a", nil)
	require.NoError(t, err)
	root := ca.Certificate()

	serverTLS, err := buildServerTLSConfig(deviceA, root)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0304), serverTLS.MinVersion) // tls.VersionTLS13
	assert.Contains(t, serverTLS.NextProtos, alpnProtocol)
	assert.NotNil(t, serverTLS.ClientCAs)

	clientTLS, err := buildClientTLSConfig(deviceA, root)
	require.NoError(t, err)
	assert.NotNil(t, clientTLS.RootCAs)
}

func TestCheckPolicy_DenyBlocksOperation(t *testing.T) {
	pol := policy.NewEngine(time.Minute, 100)
	pol.AddSet(&policy.Set{
		ID:            policySetID,
		DefaultAction: policy.ActionAllow,
		Enabled:       true,
		Rules: []policy.Rule{
			{
				ID: "block-connect", Priority: 200, Enabled: true, Combine: policy.CombineAND,
				Conditions: []policy.Condition{{Field: "operation", Operator: policy.OpEq, Value: "connect"}},
				Action:     policy.ActionDeny,
			},
		},
	})

	m := &Manager{pol: pol}
	err := m.checkPolicy("connect", "remote-connection:1.2.3.4:9000", "self", nil)
	assert.Error(t, err)

	err = m.checkPolicy("send", "token:abc", "self", nil)
	assert.NoError(t, err)
}

func TestCheckPolicy_NoRegisteredSetAllows(t *testing.T) {
	m := &Manager{pol: policy.NewEngine(time.Minute, 100)}
	err := m.checkPolicy("connect", "remote-connection:1.2.3.4:9000", "self", nil)
	assert.NoError(t, err)
}

func TestConnection_StatsReflectsIdleDuration(t *testing.T) {
	c := &Connection{Machine: token.NewMachine(), lastUsed: time.Now().Add(-time.Minute)}
	st := c.Stats()
	assert.GreaterOrEqual(t, st.IdleFor, time.Minute)

	c.touch()
	st = c.Stats()
	assert.Less(t, st.IdleFor, time.Second)
}
