package internal

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goplus/llinstall/formula"
	"github.com/goplus/llinstall/internal/verify"
)

var (
	testWrapper string
	testKeep    bool
)

var testCmd = &cobra.Command{
	Use:   "test <formula>",
	Short: "Run a formula's smoke tests against an existing launcher",
	Args:  cobra.ExactArgs(1),
	RunE:  runTest,
}

func init() {
	testCmd.Flags().StringVar(&testWrapper, "wrapper", "", "launcher to test (required)")
	testCmd.Flags().BoolVar(&testKeep, "keep", false, "keep test sandboxes for inspection")
	testCmd.MarkFlagRequired("wrapper")
	rootCmd.AddCommand(testCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	spec, err := formula.Load(args[0])
	if err != nil {
		return err
	}
	if len(spec.Tests) == 0 {
		return fmt.Errorf("%s declares no tests", spec.Name)
	}
	outcomes := verify.Run(cmd.Context(), testWrapper, spec.Tests, verify.Options{
		Keep:   testKeep,
		Logger: logger,
	})
	printOutcomes(cmd.OutOrStdout(), outcomes)

	var errs []error
	for _, o := range outcomes {
		if o.Failure != nil {
			errs = append(errs, o.Failure)
		}
	}
	return errors.Join(errs...)
}
