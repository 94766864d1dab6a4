package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

type validationResult struct {
	Path     string   `json:"path"`
	Score    string   `json:"score,omitempty"`
	Cues     int      `json:"cues"`
	Ops      int      `json:"ops"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var (
		params   []string
		policies []string
	)

	cmd := &cobra.Command{
		Use:   "validate <score>...",
		Short: "Validate score files",
		Long: `Validate score files without running an engine.

This command checks:
  - YAML syntax and unknown fields, or Starlark evaluation
  - that every reference is bound by an earlier op and of the right kind
  - bus mapping flags, done flags and placement relations
  - that cue times do not decrease
  - the built-in and configured policies (OPA/rego), against the engine
    settings of the configuration`,
		Example: `  # Validate a YAML score
  banga validate pad.yaml

  # Validate a Starlark score with parameters and extra policies
  banga validate --param voices=4 --policy ./policies chords.star`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, err := newPolicyEngine(ctx, cfg, policies)
			if err != nil {
				return err
			}

			var (
				results = make([]validationResult, 0, len(args))
				failed  int
			)
			for _, path := range args {
				r := validationResult{Path: path}
				results = append(results, r)
				last := &results[len(results)-1]

				s, err := loadScore(ctx, path, params)
				if err != nil {
					last.Error = err.Error()
					failed++
					continue
				}
				last.Score = s.Name
				last.Cues = len(s.Cues)
				last.Ops = s.Len()

				result, err := checkScore(ctx, eng, cfg, s)
				if result != nil {
					for _, w := range result.Warnings {
						last.Warnings = append(last.Warnings, w.String())
					}
				}
				if err != nil {
					last.Error = err.Error()
					failed++
				}
			}

			if jsonOutput {
				if err := writeJSON(out, results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r.Error != "" {
						fmt.Fprintf(out, "FAIL %s: %s\n", r.Path, r.Error)
					} else {
						fmt.Fprintf(out, "ok   %s (%s: %d cues, %d ops)\n", r.Path, r.Score, r.Cues, r.Ops)
					}
					for _, w := range r.Warnings {
						fmt.Fprintf(out, "     %s\n", w)
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d scores are invalid", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Starlark score parameter key=value (repeatable)")
	cmd.Flags().StringArrayVar(&policies, "policy", nil, "additional policy file or directory (repeatable)")

	return cmd
}
