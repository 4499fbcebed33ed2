package rls

import (
	"context"
	"strings"

	"github.com/cliniguard/cliniguard/internal/platform/middleware"
)

// HeaderGenerator is the security-header recommendation collaborator. The
// evaluator only inspects the returned map for the configured required
// headers; generation failures score as a neutral zero penalty.
type HeaderGenerator interface {
	GenerateSecurityHeaders(ctx context.Context, sc SecurityContext) (map[string]string, error)
}

// HeaderGeneratorFunc adapts a function to the HeaderGenerator interface.
type HeaderGeneratorFunc func(ctx context.Context, sc SecurityContext) (map[string]string, error)

func (f HeaderGeneratorFunc) GenerateSecurityHeaders(ctx context.Context, sc SecurityContext) (map[string]string, error) {
	return f(ctx, sc)
}

// StaticHeaderGenerator recommends the same canonical header set the
// server's response middleware applies. It is the default collaborator
// when no external generator is wired in.
func StaticHeaderGenerator() HeaderGenerator {
	return HeaderGeneratorFunc(func(_ context.Context, _ SecurityContext) (map[string]string, error) {
		return middleware.ResponseSecurityHeaders(), nil
	})
}

// headerResult is the header-compliance phase's output: a bounded penalty
// to subtract from the security score and the list of missing headers.
type headerResult struct {
	Penalty int
	Missing []string
}

// scoreHeaders checks the generator's recommended headers for the
// configured required names (case-insensitive) and accumulates a penalty
// per missing header, capped at Config.HeaderPenaltyFloor.
func (e *Evaluator) scoreHeaders(ctx context.Context, sc SecurityContext) headerResult {
	hdrs, err := e.headers.GenerateSecurityHeaders(ctx, sc)
	if err != nil {
		e.log.Warn().Err(err).Msg("security header generation failed, skipping compliance scoring")
		return headerResult{}
	}

	present := make(map[string]bool, len(hdrs))
	for name := range hdrs {
		present[strings.ToLower(name)] = true
	}

	res := headerResult{}
	for _, required := range e.cfg.RequiredHeaders {
		if !present[strings.ToLower(required)] {
			res.Missing = append(res.Missing, required)
			res.Penalty += e.cfg.HeaderPenalty
		}
	}
	if res.Penalty > e.cfg.HeaderPenaltyFloor {
		res.Penalty = e.cfg.HeaderPenaltyFloor
	}
	return res
}
