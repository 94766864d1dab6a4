package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kaoskorobase/banga/pkg/engine"
	"github.com/kaoskorobase/banga/pkg/score"
)

func newWatchCommand() *cobra.Command {
	var (
		debounce time.Duration
		start    float64
		params   []string
	)

	cmd := &cobra.Command{
		Use:   "watch <score>",
		Short: "Play a score and replay it whenever the file changes",
		Long: `Play a score, then watch the file and replay it on every change.

Before a replay, every node and bus the previous version left bound is freed
in one bundle. A score that fails to load or play is logged and the previous
version keeps sounding until the next change. Stop with Ctrl-C.`,
		Example: `  banga watch -c banga.yaml pad.star --param freq=220`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			s, err := score.Load(ctx, args[0], p)
			if err != nil {
				return err
			}

			e, err := openEnv(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := e.Close(); err != nil {
					log.Error().Err(err).Msg("Shutdown failed")
				}
			}()

			player := score.NewPlayer(e.engine, score.WithTelemetry(e.tel))
			if _, err := player.Play(ctx, s, engine.Time(start)); err != nil {
				log.Error().Err(err).Msg("Initial play failed")
			}

			w, err := score.NewWatcher(args[0],
				score.WithDebounce(debounce),
				score.WithParams(p),
				score.WithWatchLogger(e.tel.Logger),
			)
			if err != nil {
				return err
			}
			defer func() { _ = w.Close() }()

			err = w.Watch(ctx, func(ctx context.Context, s *score.Score) error {
				if err := player.Reset(ctx, engine.Time(start)); err != nil {
					return err
				}
				_, err := player.Play(ctx, s, engine.Time(start))
				if ferr := e.tel.Flush(ctx); ferr != nil {
					log.Warn().Err(ferr).Msg("Failed to flush traces")
				}
				return err
			})
			if err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", score.DefaultDebounce, "wait this long for writes to settle")
	cmd.Flags().Float64Var(&start, "start", 0, "engine time of the score start in seconds")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Starlark score parameter key=value (repeatable)")

	return cmd
}
