package topology

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDefault(t *testing.T) {
	topo, err := Build(DefaultSpec())
	require.NoError(t, err)

	require.Len(t, topo.Controllers, 2)
	assert.Equal(t, "127.0.0.1", topo.Controllers[0].IP)
	assert.False(t, topo.Controllers[0].AssumesListening)
	assert.Equal(t, RolePrimaryAuth, topo.Controllers[0].Role)
	assert.Equal(t, "10.0.10.2", topo.Controllers[1].IP)
	assert.True(t, topo.Controllers[1].AssumesListening)
	assert.Equal(t, "tcp:10.0.10.2:6633", topo.Controllers[1].Addr())

	require.Len(t, topo.Switches, 2)
	assert.Equal(t, 0, topo.Switches[0].Controller)
	assert.True(t, topo.Switches[0].Inband)
	assert.Equal(t, 1, topo.Switches[1].Controller)
	assert.False(t, topo.Switches[1].Inband)

	users := topo.Users()
	require.Len(t, users, DefaultUsers)
	assert.Equal(t, PortalName, topo.Hosts[0].Name)
	assert.Equal(t, ContrName, topo.Hosts[1].Name)
}

func TestBuildLinks(t *testing.T) {
	topo, err := Build(Spec{Users: 2})
	require.NoError(t, err)

	want := []Link{
		{NodeA: "s1", NodeB: "s2"},
		{NodeA: "portal", NodeB: "s1"},
		{NodeA: "portal", NodeB: "c0", IPA: "10.0.13.2/24", IPB: "10.0.13.3/24"},
		{NodeA: "contr", NodeB: "s2", IPB: "10.0.10.1/24"},
		{NodeA: "h0", NodeB: "s2"},
		{NodeA: "h1", NodeB: "s2"},
	}
	if diff := cmp.Diff(want, topo.Links); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}
}

func TestUserAddressingIsDeterministic(t *testing.T) {
	first, err := Build(DefaultSpec())
	require.NoError(t, err)
	second, err := Build(DefaultSpec())
	require.NoError(t, err)

	if diff := cmp.Diff(first.Users(), second.Users()); diff != "" {
		t.Errorf("repeated builds differ (-first +second):\n%s", diff)
	}

	tests := []struct {
		n    int
		name string
		mac  string
		ip   string
	}{
		{0, "h0", "00:00:00:00:00:10", "10.0.0.3/8"},
		{1, "h1", "00:00:00:00:00:11", "10.0.0.4/8"},
		{2, "h2", "00:00:00:00:00:12", "10.0.0.5/8"},
		{15, "h15", "00:00:00:00:00:1f", "10.0.0.18/8"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, UserName(tt.n))
		assert.Equal(t, tt.mac, UserMAC(tt.n))
		assert.Equal(t, tt.ip, UserIP(tt.n))
	}

	for _, u := range first.Users() {
		assert.Equal(t, UserMAC(u.Ordinal), u.MAC)
		assert.Equal(t, UserIP(u.Ordinal), u.IP)
		assert.Equal(t, []string{"/etc/wpa_supplicant"}, u.PrivateDirs)
		require.NotNil(t, u.Credentials)
		assert.Equal(t, UserCredentials(u.Ordinal), *u.Credentials)
	}
}

func TestBuildRejectsUserCount(t *testing.T) {
	_, err := Build(Spec{Users: 0})
	assert.Error(t, err)
	_, err = Build(Spec{Users: MaxUsers + 1})
	assert.Error(t, err)
}

func TestSwitchOrdinal(t *testing.T) {
	n, err := SwitchOrdinal("s1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = SwitchOrdinal("s12")
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	for _, bad := range []string{"", "s", "s0", "h1", "sx"} {
		_, err := SwitchOrdinal(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidate(t *testing.T) {
	topo := NewTopology()
	topo.AddController(Controller{Name: "c0"})
	topo.AddSwitch(Switch{Name: "s1", Controller: 1})
	assert.ErrorContains(t, topo.Validate(), "out of range")

	topo = NewTopology()
	topo.AddHost(Host{Name: "h0"})
	topo.AddHost(Host{Name: "h0"})
	assert.ErrorContains(t, topo.Validate(), "duplicate")

	topo = NewTopology()
	topo.AddHost(Host{Name: "h0"})
	topo.AddLink("h0", "s9")
	assert.ErrorContains(t, topo.Validate(), "unknown node")
}

func TestLookups(t *testing.T) {
	topo, err := Build(DefaultSpec())
	require.NoError(t, err)

	kind, ok := topo.Kind("c0")
	require.True(t, ok)
	assert.Equal(t, NodeController, kind)
	kind, ok = topo.Kind("s2")
	require.True(t, ok)
	assert.Equal(t, NodeSwitch, kind)
	_, ok = topo.Kind("nope")
	assert.False(t, ok)

	sw, ok := topo.SwitchFor("h1")
	require.True(t, ok)
	assert.Equal(t, "s2", sw.Name)
	sw, ok = topo.SwitchFor(PortalName)
	require.True(t, ok)
	assert.Equal(t, "s1", sw.Name)

	c, err := topo.ControllerFor(sw)
	require.NoError(t, err)
	assert.Equal(t, "c0", c.Name)

	h, ok := topo.Host("h2")
	require.True(t, ok)
	assert.Equal(t, "h2-eth0", h.Intf())
	assert.Equal(t, "10.0.12.3", IPOf(PortalIP))
}
