package protected

import (
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/cuemby/portalforge/pkg/fn"
	"github.com/cuemby/portalforge/pkg/logging"
	"github.com/cuemby/portalforge/pkg/metrics"
	"github.com/cuemby/portalforge/pkg/plog"
	"github.com/cuemby/portalforge/pkg/portalerr"
)

// ProtectedFn wraps an fn.Fn with ordered pre- and post-validators. The
// registered order never affects behavior: Execute reshuffles a copy of
// each list before every attempt, so only the per-call order is random,
// never the registered set.
type ProtectedFn struct {
	Fn   *fn.Fn
	Pre  []PreValidator
	Post []PostValidator

	LP *plog.LogPortal

	logger zerolog.Logger
}

// New builds a ProtectedFn. Validator lists are copied so later mutation of
// the caller's slices does not affect this instance.
func New(f *fn.Fn, lp *plog.LogPortal, pre []PreValidator, post []PostValidator) *ProtectedFn {
	return &ProtectedFn{
		Fn:     f,
		Pre:    append([]PreValidator(nil), pre...),
		Post:   append([]PostValidator(nil), post...),
		LP:     lp,
		logger: logging.WithComponent("protected"),
	}
}

// Execute runs the protected execution loop: shuffle
// pre-validators, run each; a validator may demand a prerequisite call run
// first (signaled by returning a non-nil CallSignature), in which case the
// whole pre-validation pass restarts from a freshly reshuffled order after
// the caller satisfies it. Any non-Successful result is fatal. Post-
// validators run the same way after the wrapped function executes, against
// its result.
//
// runPrerequisite is supplied by pkg/pure, which alone knows how to execute
// an arbitrary CallSignature recursively; pkg/protected never imports
// pkg/pure; to avoid a cycle.
func (p *ProtectedFn) Execute(
	packed fn.PackedKwArgs,
	kw fn.KwArgs,
	entropy *rand.Rand,
	runPrerequisite func(fn.CallSignature) error,
) (any, error) {
	for {
		order := shufflePre(p.Pre, entropy)
		restart := false
		for _, v := range order {
			result, prereq, err := v(packed, p.Fn.Addr)
			if err != nil {
				return nil, fmt.Errorf("protected: pre-validator errored for %s: %w", p.Fn.Name, err)
			}
			if prereq != nil {
				if runPrerequisite == nil {
					return nil, fmt.Errorf("protected: pre-validator for %s demanded a prerequisite call but none can be run here", p.Fn.Name)
				}
				if err := runPrerequisite(*prereq); err != nil {
					return nil, fmt.Errorf("protected: prerequisite call for %s failed: %w", p.Fn.Name, err)
				}
				restart = true
				break
			}
			if result != Successful {
				p.logger.Warn().Str("fn", p.Fn.Name).Msg("pre-validator rejected call")
				return nil, fmt.Errorf("protected: pre-validator rejected call to %s: %w", p.Fn.Name, portalerr.ErrValidationFailed)
			}
		}
		if restart {
			continue
		}
		break
	}

	result, err := p.callWrapped(packed, kw)
	if err != nil {
		return nil, err
	}

	for _, v := range shufflePost(p.Post, entropy) {
		ok, err := v(packed, p.Fn.Addr, result)
		if err != nil {
			return nil, fmt.Errorf("protected: post-validator errored for %s: %w", p.Fn.Name, err)
		}
		if ok != Successful {
			p.logger.Warn().Str("fn", p.Fn.Name).Msg("post-validator rejected result")
			return nil, fmt.Errorf("protected: post-validator rejected result of %s: %w", p.Fn.Name, portalerr.ErrValidationFailed)
		}
	}

	return result, nil
}

// callWrapped runs the wrapped closure inside a logging execution frame, so
// any panic it raises is recovered, logged exactly once, and returned as a
// normal error to this call's caller.
func (p *ProtectedFn) callWrapped(packed fn.PackedKwArgs, kw fn.KwArgs) (result any, err error) {
	closure, err := p.Fn.Closure()
	if err != nil {
		return nil, err
	}

	callSig, err := fn.NewCallSignature(p.Fn, packed)
	if err != nil {
		return nil, err
	}

	frame, err := plog.NewFrame(p.LP, p.Fn, callSig, true)
	if err != nil {
		return nil, err
	}
	if err := frame.Enter(); err != nil {
		return nil, err
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			metrics.PanicsRecoveredTotal.WithLabelValues(p.Fn.Name).Inc()
			p.logger.Error().Str("fn", p.Fn.Name).Interface("recovered", recovered).Msg("function panicked")
			err = fmt.Errorf("protected: function %s panicked: %v", p.Fn.Name, recovered)
		}
		// The frame logs exactly the error value this call returns, so the
		// processed marker set on its %w root stops every outer frame the
		// same error propagates through from re-logging it.
		if err != nil {
			frame.Exit(err)
		} else {
			frame.Exit(nil)
		}
	}()

	result, err = closure(kw)
	if err != nil {
		return nil, fmt.Errorf("protected: function %s returned an error: %w", p.Fn.Name, err)
	}
	if regErr := frame.RegisterResult(result); regErr != nil {
		return nil, regErr
	}
	return result, nil
}

func shufflePre(validators []PreValidator, entropy *rand.Rand) []PreValidator {
	order := append([]PreValidator(nil), validators...)
	entropy.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}

func shufflePost(validators []PostValidator, entropy *rand.Rand) []PostValidator {
	order := append([]PostValidator(nil), validators...)
	entropy.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}
