package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	yml := writeFile(t, "groupd.yaml", `
node:
  id: broker
  container: root
  services: [amq, mqtt]
group:
  path: /fleet/brokers
etcd:
  endpoints: ["127.0.0.1:2379"]
  dial_timeout: 2s
`)
	c, err := Load("", yml)
	require.NoError(t, err)

	assert.Equal(t, "broker", c.Node.ID)
	assert.Equal(t, []string{"amq", "mqtt"}, c.Node.Services)
	assert.Equal(t, "/fleet/brokers", c.Group.Path)
	assert.Equal(t, 2*time.Second, c.Etcd.DialTimeout)
	assert.Equal(t, 5*time.Second, c.Etcd.RequestTimeout)
	assert.Equal(t, "member-", c.Group.MemberPrefix)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, 128, c.Ring.Replicas)
	assert.Equal(t, "dev", c.Log.Env)
}

func TestEnvOverridesYAML(t *testing.T) {
	yml := writeFile(t, "groupd.yaml", "node:\n  id: broker\ngroup:\n  path: /fleet/a\n")
	t.Setenv("GROUP_PATH", "/fleet/b")
	t.Setenv("ETCD_ENDPOINTS", "e1:2379, e2:2379")
	t.Setenv("ETCD_TTL", "7")
	t.Setenv("LOG_ENV", "prod")

	c, err := Load("", yml)
	require.NoError(t, err)
	assert.Equal(t, "/fleet/b", c.Group.Path)
	assert.Equal(t, []string{"e1:2379", "e2:2379"}, c.Etcd.Endpoints)
	assert.EqualValues(t, 7, c.Etcd.TTL)
	assert.Equal(t, "prod", c.Log.Env)
}

func TestDotEnvFile(t *testing.T) {
	env := writeFile(t, ".env", "SELF_ID=autoscaler\nGROUP_PATH=/fleet/autoscaler\n")
	// godotenv never overrides variables already set; t.Setenv restores them
	t.Setenv("SELF_ID", "")
	t.Setenv("GROUP_PATH", "")
	require.NoError(t, os.Unsetenv("SELF_ID"))
	require.NoError(t, os.Unsetenv("GROUP_PATH"))

	c, err := Load(env, "")
	require.NoError(t, err)
	assert.Equal(t, "autoscaler", c.Node.ID)
	assert.Equal(t, "/fleet/autoscaler", c.Group.Path)
}

func TestMissingFilesAreIgnored(t *testing.T) {
	t.Setenv("SELF_ID", "x")
	t.Setenv("GROUP_PATH", "/g")
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.NoError(t, err)
}

func TestLoadFailsFast(t *testing.T) {
	cases := map[string]struct {
		yaml string
		env  map[string]string
	}{
		"missing id":       {yaml: "group:\n  path: /g\n"},
		"relative path":    {yaml: "node:\n  id: x\ngroup:\n  path: g\n"},
		"prefix with dir":  {yaml: "node:\n  id: x\ngroup:\n  path: /g\n  member_prefix: a/b\n"},
		"bad log env":      {yaml: "node:\n  id: x\ngroup:\n  path: /g\nlog:\n  env: staging\n"},
		"short ttl":        {yaml: "node:\n  id: x\ngroup:\n  path: /g\netcd:\n  ttl: 1\n"},
		"bad ttl variable": {yaml: "node:\n  id: x\ngroup:\n  path: /g\n", env: map[string]string{"ETCD_TTL": "ten"}},
		"malformed yaml":   {yaml: "node: [\n"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load("", writeFile(t, "c.yaml", tc.yaml))
			assert.Error(t, err)
		})
	}
}
