package main

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"neurolab/internal/dataset"
	"neurolab/internal/ingest"
	"neurolab/internal/pipeline"
	"neurolab/internal/plugin"
	"neurolab/internal/plugin/builtin"
	"neurolab/internal/schema"
	"neurolab/internal/storage"
)

var (
	runInput   string
	runSchema  string
	runTarget  string
	runStrict  bool
	runPlugins []string
	runCharset string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the full pipeline over a dataset and persist the run",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runInput, "input", "", "input file (.csv or .html)")
	f.StringVar(&runSchema, "schema", "", "schema contract file (YAML)")
	f.StringVar(&runTarget, "target", "", "regression target column (overrides config)")
	f.BoolVar(&runStrict, "strict", false, "strict validation: any schema violation aborts the run")
	f.StringArrayVar(&runPlugins, "plugin", nil, "plugin to run, name or name@version (repeatable)")
	f.StringVar(&runCharset, "charset", "", "input charset: utf-8|latin-1|windows-1252")
	_ = runCmd.MarkFlagRequired("input")
	_ = runCmd.MarkFlagRequired("schema")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	sc, err := schema.LoadFile(runSchema)
	if err != nil {
		return err
	}
	ds, err := loadInput(runInput, runCharset, sc)
	if err != nil {
		return err
	}

	if runTarget != "" {
		cfg.Stats.Target = runTarget
	}
	if runStrict {
		cfg.Mode = string(schema.Strict)
	}
	mode, err := cfg.SchemaMode()
	if err != nil {
		return err
	}
	cleanCfg, err := cfg.CleaningConfig()
	if err != nil {
		return err
	}
	plugReqs := cfg.PluginRequests()
	for _, spec := range runPlugins {
		name, version := splitPluginSpec(spec)
		plugReqs = append(plugReqs, plugin.Request{Name: name, Version: version})
	}
	snapshot, err := cfg.Snapshot()
	if err != nil {
		return err
	}

	repo, err := storage.New(ctx, cfg.StoreConfig())
	if err != nil {
		return err
	}
	defer repo.Close()

	reg := plugin.NewRegistry()
	if err := builtin.RegisterAll(reg); err != nil {
		return err
	}
	exec, err := plugin.NewExecutor(reg, cfg.Plugins.Timeout, logger)
	if err != nil {
		return err
	}
	exec.SetWorkers(cfg.Plugins.Workers)

	orch, err := pipeline.New(repo, exec, logger)
	if err != nil {
		return err
	}
	run, err := orch.Execute(ctx, pipeline.Request{
		DatasetName:    strings.TrimSuffix(filepath.Base(runInput), filepath.Ext(runInput)),
		Dataset:        ds,
		SchemaName:     sc.Name,
		Schema:         sc,
		Mode:           mode,
		Cleaning:       cleanCfg,
		Stats:          cfg.StatsConfig(),
		Plugins:        plugReqs,
		ConfigSnapshot: snapshot,
	})
	if run != nil {
		printRunSummary(cmd.OutOrStdout(), run)
	}
	return err
}

// loadInput picks the format adapter from the file extension and builds
// the raw dataset, with column types declared by the schema.
func loadInput(path, charset string, sc *schema.Schema) (*dataset.Dataset, error) {
	specs := make([]dataset.ColumnSpec, len(sc.Fields))
	for i, f := range sc.Fields {
		specs[i] = dataset.ColumnSpec{Name: f.Name, Type: f.Type}
	}

	var (
		src dataset.TableSource
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		src, err = ingest.HTMLTableAdapter{Columns: specs}.ReadFile(path)
	default:
		src, err = ingest.CSVAdapter{Columns: specs, Charset: charset}.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return dataset.FromSource(src)
}

// splitPluginSpec parses "name" or "name@version".
func splitPluginSpec(spec string) (name, version string) {
	if i := strings.LastIndex(spec, "@"); i >= 0 {
		return spec[:i], spec[i+1:]
	}
	return spec, ""
}
