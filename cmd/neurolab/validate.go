package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"neurolab/internal/schema"
)

var (
	validateInput   string
	validateSchema  string
	validateStrict  bool
	validateCharset string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a dataset against a schema contract without running analysis",
	RunE:  runValidate,
}

func init() {
	f := validateCmd.Flags()
	f.StringVar(&validateInput, "input", "", "input file (.csv or .html)")
	f.StringVar(&validateSchema, "schema", "", "schema contract file (YAML)")
	f.BoolVar(&validateStrict, "strict", false, "exit non-zero on any violation")
	f.StringVar(&validateCharset, "charset", "", "input charset: utf-8|latin-1|windows-1252")
	_ = validateCmd.MarkFlagRequired("input")
	_ = validateCmd.MarkFlagRequired("schema")
}

func runValidate(cmd *cobra.Command, args []string) error {
	sc, err := schema.LoadFile(validateSchema)
	if err != nil {
		return err
	}
	ds, err := loadInput(validateInput, validateCharset, sc)
	if err != nil {
		return err
	}

	mode := schema.Lenient
	if validateStrict {
		mode = schema.Strict
	}
	rep, err := schema.Validate(ds, sc, mode)
	var verr *schema.ViolationError
	if err != nil && !errors.As(err, &verr) {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "dataset: %s (%d rows, %d columns)\n", validateInput, ds.NumRows(), ds.NumCols())
	fmt.Fprintf(out, "schema:  %s@%s mode=%s\n", sc.Name, sc.Version, mode)
	if rep.Valid {
		fmt.Fprintln(out, "valid: no violations")
		return nil
	}
	fmt.Fprintf(out, "violations: %d\n", len(rep.Violations))
	for _, v := range rep.Violations {
		if v.Row < 0 {
			fmt.Fprintf(out, "  %s: %s: %s\n", v.Field, v.Kind, v.Detail)
		} else {
			fmt.Fprintf(out, "  %s row %d: %s: %s\n", v.Field, v.Row, v.Kind, v.Detail)
		}
	}
	if validateStrict {
		return fmt.Errorf("validation failed with %d violations", len(rep.Violations))
	}
	return nil
}
