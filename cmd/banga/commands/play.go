package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kaoskorobase/banga/pkg/config"
	"github.com/kaoskorobase/banga/pkg/engine"
	"github.com/kaoskorobase/banga/pkg/score"
)

func newPlayCommand() *cobra.Command {
	var (
		dryRun    bool
		dump      bool
		start     float64
		realtime  bool
		lookahead time.Duration
		hold      time.Duration
		reset     bool
		params    []string
		policies  []string
		noPolicy  bool
	)

	cmd := &cobra.Command{
		Use:   "play <score>",
		Short: "Play a score against the engine",
		Long: `Play a score file against the engine.

Every cue becomes one time-tagged bundle. Cues are sent as fast as possible
unless --realtime is given, in which case each cue is sent --lookahead before
its time. A cue that fails is discarded together with the ids it allocated
and playback stops.

Before anything is sent the score is checked against the built-in and
configured policies; a violation with error severity, such as needing more
node ids than the engine has, refuses the score.`,
		Example: `  # Play a YAML score with the configured backend
  banga play -c banga.yaml pad.yaml

  # Print the bundles a Starlark score produces without any engine
  banga play --dry-run --dump --param freq=330 pad.star

  # Pace cues in wall-clock time and keep the engine running afterwards
  banga play --realtime --hold 5s pad.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dryRun {
				cfg.Backend.Kind = config.BackendLoopback
			}
			if dump && cfg.Backend.Kind != config.BackendLoopback {
				return fmt.Errorf("--dump needs the loopback backend")
			}

			s, err := loadScore(ctx, args[0], params)
			if err != nil {
				return err
			}

			if !noPolicy {
				eng, err := newPolicyEngine(ctx, cfg, policies)
				if err != nil {
					return err
				}
				if _, err := checkScore(ctx, eng, cfg, s); err != nil {
					return err
				}
			}

			log.Info().
				Str("score", s.Name).
				Int("cues", len(s.Cues)).
				Str("backend", cfg.Backend.Kind).
				Msg("Playing score")

			e, err := openEnv(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := e.Close(); err != nil {
					log.Error().Err(err).Msg("Shutdown failed")
				}
			}()

			opts := []score.PlayerOption{score.WithTelemetry(e.tel)}
			if realtime {
				opts = append(opts, score.WithRealtime(lookahead))
			}
			player := score.NewPlayer(e.engine, opts...)

			res, err := player.Play(ctx, s, engine.Time(start))
			if err != nil {
				return err
			}

			if hold > 0 {
				select {
				case <-time.After(hold):
				case <-ctx.Done():
				}
			}

			if reset {
				end := start
				if n := len(s.Cues); n > 0 {
					end += s.Cues[n-1].At
				}
				if err := player.Reset(ctx, engine.Time(end)); err != nil {
					return err
				}
			}

			if dump {
				if err := dumpPackets(cmd.OutOrStdout(), e.loopback.Packets()); err != nil {
					return err
				}
			}

			summary := playSummary{
				Score:    s.Name,
				Session:  e.engine.SessionID(),
				Cues:     res.Cues,
				Messages: res.Messages,
			}
			stats := e.engine.Stats()
			summary.IDs.Nodes = stats.NodesInUse
			summary.IDs.Buses = stats.BusesInUse
			return printSummary(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "use the loopback backend regardless of the config")
	cmd.Flags().BoolVar(&dump, "dump", false, "print the bundles sent (loopback backend only)")
	cmd.Flags().Float64Var(&start, "start", 0, "engine time of the score start in seconds")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "pace cues in wall-clock time")
	cmd.Flags().DurationVar(&lookahead, "lookahead", 100*time.Millisecond, "how early cues are sent in realtime mode")
	cmd.Flags().DurationVar(&hold, "hold", 0, "keep the engine running this long after the last cue")
	cmd.Flags().BoolVar(&reset, "reset", false, "free every node and bus the score left behind")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Starlark score parameter key=value (repeatable)")
	cmd.Flags().StringArrayVar(&policies, "policy", nil, "additional policy file or directory (repeatable)")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip the policy check")

	return cmd
}
