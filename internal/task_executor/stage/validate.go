package stage

import (
	"context"
	"crypto/subtle"
	"errors"

	"go.uber.org/zap"

	"rtmpipe/internal/common"
)

// Validator checks the caller's trigger token against the configured one.
// It never touches the workspace.
type Validator struct{}

func (v *Validator) Name() string { return Validate }

func (v *Validator) Run(_ context.Context, r *Run) (Report, error) {
	log := r.logger().With(zap.String("stage", Validate), zap.String("run_id", r.ID))

	mode := r.TokenMode
	if mode == "" {
		mode = common.TokenModeEnforce
	}
	if mode == common.TokenModeOff {
		log.Info("trigger token check disabled")
		return Report{Status: StatusSuccess, Tail: "token check disabled"}, nil
	}

	token := r.Params.TriggerToken
	if token == "" {
		log.Info("no trigger token supplied, validation skipped")
		return Report{Status: StatusSuccess, Tail: "no token supplied"}, nil
	}

	var reason error
	switch {
	case r.Creds == nil || r.Creds.TriggerToken.IsZero():
		reason = errors.New("no expected trigger token configured")
	case subtle.ConstantTimeCompare([]byte(token), []byte(r.Creds.TriggerToken.Reveal())) != 1:
		reason = errors.New("trigger token mismatch")
	default:
		log.Info("trigger token accepted")
		return Report{Status: StatusSuccess, Tail: "token accepted"}, nil
	}

	if mode == common.TokenModeLog {
		log.Warn("trigger token rejected, continuing", zap.Error(reason))
		return Report{Status: StatusSuccess, Tail: reason.Error()}, nil
	}
	return Report{Status: StatusFailed}, fail(Validate, KindAuthorization, reason)
}
