package internal

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/goplus/llinstall/formula"
	"github.com/goplus/llinstall/internal/build"
	"github.com/goplus/llinstall/internal/fetch"
	"github.com/goplus/llinstall/internal/install"
	"github.com/goplus/llinstall/internal/verify"
)

var (
	installHead    bool
	installPrefix  string
	installWrapper string
)

var installCmd = &cobra.Command{
	Use:   "install <formula>",
	Short: "Build a formula and write its launcher",
	Long: `Install resolves the selected channel of a formula, fetches and builds it into
an isolated prefix, writes a launcher with the derived environment and runs the
formula's smoke tests against it.

The prefix conflict policy (--on-conflict) has no default: pass it explicitly,
set LLINSTALL_ON_CONFLICT, or set on_conflict in the config file.`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().BoolVar(&installHead, "head", false, "install the head channel instead of stable")
	installCmd.Flags().StringVar(&installPrefix, "prefix", "", "install prefix (default <work dir>/installs/<name>/<version>)")
	installCmd.Flags().StringVar(&installWrapper, "wrapper", "", "launcher path (default <work dir>/bin/<name>)")
	installCmd.Flags().String("on-conflict", "", `what to do with a non-empty prefix: "wipe" or "reject"`)
	rootCmd.AddCommand(installCmd)
}

func selectedMode(head bool) formula.Mode {
	if head {
		return formula.Head
	}
	return formula.Stable
}

func runInstall(cmd *cobra.Command, args []string) error {
	spec, err := formula.Load(args[0])
	if err != nil {
		return err
	}
	policy, err := build.ParsePrefixPolicy(cfg.OnConflict)
	if err != nil {
		return err
	}
	mode := selectedMode(installHead)
	res, err := formula.Resolve(spec, mode)
	if err != nil {
		return err
	}

	prefix := installPrefix
	if prefix == "" {
		prefix = defaultPrefix(spec, res)
	}
	wrapperPath := installWrapper
	if wrapperPath == "" {
		wrapperPath = filepath.Join(cfg.BinDir(), spec.Name)
	}
	var buildOutput io.Writer
	if verbose {
		buildOutput = cmd.ErrOrStderr()
	}

	result, err := install.Run(cmd.Context(), spec, install.Options{
		Mode:         mode,
		Prefix:       prefix,
		WrapperPath:  wrapperPath,
		PrefixPolicy: policy,
		Fetcher: fetch.New(fetch.Options{
			Logger: logger,
			S3: fetch.S3Options{
				Endpoint: cfg.S3.Endpoint,
				Region:   cfg.S3.Region,
				Secure:   cfg.S3.Secure,
			},
		}),
		SourceDir:   filepath.Join(cfg.SourcesDir(), spec.Name, res.Version),
		Logger:      logger,
		BuildOutput: buildOutput,
	})
	if err != nil {
		return err
	}

	printOutcomes(cmd.OutOrStdout(), result.Outcomes)
	if !result.Passed() {
		return fmt.Errorf("%s installed to %s but failed verification:\n%w", spec.Name, result.Tree.Root, result.Err())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s installed: %s\n", spec.Name, result.Tree.Version, result.WrapperPath)
	return nil
}

// defaultPrefix returns <work dir>/installs/<name>/<version>.
func defaultPrefix(spec *formula.FormulaSpec, res *formula.Resolution) string {
	return filepath.Join(cfg.InstallsDir(), spec.Name, res.Version)
}

func printOutcomes(w io.Writer, outcomes []verify.Outcome) {
	for _, o := range outcomes {
		if o.Passed() {
			fmt.Fprintf(w, "PASS %s\n", o.Name)
			continue
		}
		fmt.Fprintf(w, "FAIL %s: %s\n", o.Name, o.Failure.Reason)
	}
}
