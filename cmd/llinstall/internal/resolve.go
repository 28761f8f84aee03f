package internal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/goplus/llinstall/formula"
	"github.com/goplus/llinstall/internal/build"
	"github.com/goplus/llinstall/internal/vcs"
)

var (
	resolveHead   bool
	resolveRemote bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <formula>",
	Short: "Show what install would build, without building",
	Long: `Resolve validates a formula, selects its stable or head channel and prints the
channel, version, build descriptor and command template. It also compares the
resolved version against the install receipt in the default prefix.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveHead, "head", false, "resolve the head channel instead of stable")
	resolveCmd.Flags().BoolVar(&resolveRemote, "remote", false, "query the head repository for its current commit")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	spec, err := formula.Load(args[0])
	if err != nil {
		return err
	}
	res, err := formula.Resolve(spec, selectedMode(resolveHead))
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "formula:    %s\n", spec.Name)
	fmt.Fprintf(w, "channel:    %s\n", res.Mode())
	fmt.Fprintf(w, "version:    %s\n", res.Version)
	switch ch := res.Channel.(type) {
	case *formula.StableChannel:
		fmt.Fprintf(w, "source:     %s\n", ch.ArchiveURL)
		fmt.Fprintf(w, "digest:     %s\n", ch.Digest)
	case *formula.HeadChannel:
		fmt.Fprintf(w, "source:     %s#%s\n", ch.RepoURL, ch.Branch)
		if resolveRemote {
			rev, err := vcs.NewGitVCS().Latest(cmd.Context(), ch.RepoURL, ch.Branch)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "revision:   %s\n", rev)
		}
	}
	if res.Build.File != "" {
		fmt.Fprintf(w, "descriptor: %s\n", res.Build.File)
	}
	fmt.Fprintf(w, "command:    %s\n", res.Build.Command)
	if deps := spec.Dependencies; len(deps) > 0 {
		names := make([]string, len(deps))
		for i, d := range deps {
			names[i] = d.Name + " (" + string(d.At) + ")"
		}
		fmt.Fprintf(w, "depends on: %s\n", strings.Join(names, ", "))
	}
	return printInstalled(w, defaultPrefix(spec, res), res)
}

// printInstalled reports the receipt found in prefix, if any, relative to
// the resolved version.
func printInstalled(w io.Writer, prefix string, res *formula.Resolution) error {
	receipt, err := build.ReadReceipt(prefix)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(w, "installed:  no")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "installed:  %s (%s)\n", receipt.Version, compareVersions(receipt.Version, res.Version))
	return nil
}

// compareVersions describes how an installed version relates to the
// resolved one. Non-semantic versions such as HEAD are only checked for
// equality.
func compareVersions(installed, resolved string) string {
	iv, rv := canonical(installed), canonical(resolved)
	if !semver.IsValid(iv) || !semver.IsValid(rv) {
		if installed == resolved {
			return "up to date"
		}
		return "differs"
	}
	switch semver.Compare(iv, rv) {
	case -1:
		return "upgrade available"
	case 1:
		return "newer than formula"
	}
	return "up to date"
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
