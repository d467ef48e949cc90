package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"neurolab/internal/cleaning"
	"neurolab/internal/schema"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	mode, err := c.SchemaMode()
	if err != nil || mode != schema.Lenient {
		t.Fatalf("mode = %v, %v", mode, err)
	}
	cc, err := c.CleaningConfig()
	if err != nil {
		t.Fatalf("CleaningConfig: %v", err)
	}
	if cc.DefaultPolicy != cleaning.FlagOnly {
		t.Fatalf("default policy = %q, want flag_only", cc.DefaultPolicy)
	}
	if c.Plugins.Timeout != 30*time.Second || c.Plugins.Workers != 4 {
		t.Fatalf("plugin defaults: timeout=%s workers=%d", c.Plugins.Timeout, c.Plugins.Workers)
	}
	if c.Store.Kind != "file" {
		t.Fatalf("store kind = %q", c.Store.Kind)
	}
}

func TestLoad_File(t *testing.T) {
	p := writeConfig(t, `
mode: strict
store:
  kind: sqlite
  dsn: runs.db
cleaning:
  default_policy: impute_mean
  column_policies:
    reaction_ms: drop_row
  outlier_flagging: true
  outlier_threshold: 3.0
stats:
  target: reaction_ms
plugins:
  timeout: 5s
  workers: 2
  run:
    - name: column_profile
      version: "1.0.0"
      timeout: 2s
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if mode, _ := c.SchemaMode(); mode != schema.Strict {
		t.Fatalf("mode = %q", mode)
	}
	cc, err := c.CleaningConfig()
	if err != nil {
		t.Fatalf("CleaningConfig: %v", err)
	}
	if cc.DefaultPolicy != cleaning.ImputeMean || cc.ColumnPolicies["reaction_ms"] != cleaning.DropRow {
		t.Fatalf("cleaning config = %+v", cc)
	}
	if !cc.Outliers.Enabled || cc.Outliers.Threshold != 3.0 {
		t.Fatalf("outlier config = %+v", cc.Outliers)
	}
	if c.StatsConfig().Target != "reaction_ms" {
		t.Fatalf("target = %q", c.StatsConfig().Target)
	}
	reqs := c.PluginRequests()
	if len(reqs) != 1 || reqs[0].Name != "column_profile" || reqs[0].Timeout != 2*time.Second {
		t.Fatalf("plugin requests = %+v", reqs)
	}
	if sc := c.StoreConfig(); sc.Kind != "sqlite" || sc.DSN != "runs.db" {
		t.Fatalf("store config = %+v", sc)
	}
}

func TestLoad_Rejections(t *testing.T) {
	cases := map[string]string{
		"unknown mode":    "mode: permissive\n",
		"unknown policy":  "cleaning:\n  default_policy: drop_everything\n",
		"bad timeout":     "plugins:\n  timeout: 0s\n",
		"bad workers":     "plugins:\n  workers: 0\n",
		"nameless plugin": "plugins:\n  run:\n    - version: \"1.0.0\"\n",
		"bad metrics":     "metrics:\n  backend: statsd\n",
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing config file accepted")
	}
}

func TestSnapshot_Deterministic(t *testing.T) {
	p := writeConfig(t, `
cleaning:
  column_policies:
    b_col: drop_row
    a_col: impute_median
`)
	c1, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c2, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s1, err := c1.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	s2, err := c2.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !bytes.Equal(s1, s2) {
		t.Fatalf("snapshots differ:\n%s\n%s", s1, s2)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("NEUROLAB_MODE", "strict")
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if mode, _ := c.SchemaMode(); mode != schema.Strict {
		t.Fatalf("env override ignored, mode = %q", mode)
	}
}

func TestLoad_EnvOverridesNestedKeys(t *testing.T) {
	t.Setenv("NEUROLAB_STORE_KIND", "sqlite")
	t.Setenv("NEUROLAB_STORE_DSN", "runs.db")
	t.Setenv("NEUROLAB_PLUGINS_TIMEOUT", "5s")
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Store.Kind != "sqlite" || c.Store.DSN != "runs.db" {
		t.Fatalf("store = %+v, want sqlite/runs.db", c.Store)
	}
	if c.Plugins.Timeout != 5*time.Second {
		t.Fatalf("plugins.timeout = %s, want 5s", c.Plugins.Timeout)
	}
}
