package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"neurolab/internal/collect"
	"neurolab/internal/storage/filestore"
)

var (
	collectInclude  []string
	collectExclude  []string
	collectSourceID string
	collectSave     bool
)

var collectCmd = &cobra.Command{
	Use:   "collect <root>",
	Short: "Inventory a data-source directory into a content-hashed manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollect,
}

func init() {
	f := collectCmd.Flags()
	f.StringArrayVar(&collectInclude, "include", nil, "glob to include (repeatable; default all files)")
	f.StringArrayVar(&collectExclude, "exclude", nil, "glob to exclude (repeatable; wins over include)")
	f.StringVar(&collectSourceID, "source-id", "", "logical data-source id recorded on the manifest")
	f.BoolVar(&collectSave, "save", false, "persist the manifest in the file store")
}

func runCollect(cmd *cobra.Command, args []string) error {
	c := &collect.Collector{
		Include:  collectInclude,
		Exclude:  collectExclude,
		SourceID: collectSourceID,
		Logger:   logger,
	}
	m, err := c.Collect(args[0])
	if err != nil {
		return err
	}

	if collectSave {
		// Manifests describe local files; they always go to the file
		// store regardless of the configured run store.
		root := cfg.Store.DSN
		if cfg.Store.Kind != filestore.Kind || root == "" {
			root = ".neurolab"
		}
		st, err := filestore.Open(root)
		if err != nil {
			return err
		}
		if err := st.SaveManifest(cmd.Context(), m); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "manifest: %s\n", m.ManifestID)
	fmt.Fprintf(out, "root:     %s\n", m.RootPath)
	fmt.Fprintf(out, "artifacts: %d\n", len(m.Artifacts))
	var total int64
	for _, a := range m.Artifacts {
		total += a.SizeBytes
	}
	fmt.Fprintf(out, "bytes:     %d\n", total)
	if len(m.Warnings) > 0 {
		fmt.Fprintf(out, "warnings:  %d\n", len(m.Warnings))
		for _, w := range m.Warnings {
			fmt.Fprintf(out, "  %s\n", w)
		}
	}
	return nil
}
