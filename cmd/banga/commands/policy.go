package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/kaoskorobase/banga/pkg/config"
	"github.com/kaoskorobase/banga/pkg/policy"
	"github.com/kaoskorobase/banga/pkg/score"
)

// newPolicyEngine returns the built-in policies plus those found under the
// configured and extra paths, minus the disabled ones.
func newPolicyEngine(ctx context.Context, cfg *config.File, extra []string) (*policy.Engine, error) {
	eng, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, err
	}

	paths := append(append([]string(nil), cfg.Policies.Paths...), extra...)
	if len(paths) > 0 {
		if err := eng.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.Policies.Disable {
		if err := eng.DisablePolicy(name); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// checkScore evaluates the policies for s and fails if any violation has
// error severity. Warnings are logged.
func checkScore(ctx context.Context, eng *policy.Engine, cfg *config.File, s *score.Score) (*policy.Result, error) {
	result, err := eng.Evaluate(ctx, s, cfg.Engine)
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		log.Warn().Str("score", s.Name).Str("policy", w.Policy).Msg(w.Message)
	}
	if !result.Allowed {
		msgs := make([]string, len(result.Violations))
		for i, v := range result.Violations {
			msgs[i] = v.String()
		}
		return result, fmt.Errorf("score %q violates policies: %s", s.Name, strings.Join(msgs, "; "))
	}
	return result, nil
}
