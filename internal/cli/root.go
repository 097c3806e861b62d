package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the klingon-transcribe command tree.
func NewRootCmd(env *Env, version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "klingon-transcribe",
		Short:   "Transcribe and diarize audio into text, SRT and CTM files",
		Version: version,
		// Errors are printed by main, which also picks the exit code.
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)

	root.AddCommand(RunCmd(env))
	root.AddCommand(ServerCmd(env))
	root.AddCommand(StepsCmd(env))
	return root
}
