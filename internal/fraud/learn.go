package fraud

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/vigil/internal/validation"
)

// Observe folds a transaction into the tenant's profile using an
// exponentially weighted moving average and saves it. Updates for one
// tenant are serialized; different tenants proceed in parallel.
func (p *Predictor) Observe(ctx context.Context, tenantID string, tx *Transaction) (*Profile, error) {
	if p.profiles == nil {
		return nil, ErrNoProfileStore
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction is required", validation.ErrInvalidInput)
	}
	if err := validateTransaction(tenantID, tx); err != nil {
		return nil, err
	}

	unlock, err := p.locks.LockContext(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	profile, err := p.profiles.Get(ctx, tenantID)
	switch {
	case errors.Is(err, ErrProfileNotFound):
		profile = &Profile{
			TenantID:          tenantID,
			VolumeBaseline:    p.cfg.DefaultVolumeBaseline,
			FrequencyBaseline: p.cfg.DefaultFrequencyBaseline,
		}
	case err != nil:
		return nil, fmt.Errorf("load profile: %w", err)
	}

	updated := *profile
	p.learn(&updated, tx)
	updated.UpdatedAt = p.now()

	if err := p.profiles.Save(ctx, &updated); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return &updated, nil
}

// learn applies one observation. The first observation seeds behavior and
// pattern directly; baselines always move by EWMA from their prior value.
func (p *Predictor) learn(profile *Profile, tx *Transaction) {
	alpha := p.cfg.LearningRate
	first := profile.Observations == 0

	profile.VolumeBaseline = ewma(profile.VolumeBaseline, tx.Volume, alpha)
	profile.FrequencyBaseline = ewma(profile.FrequencyBaseline, tx.Frequency, alpha)

	if first {
		profile.Behavior = Behavior{AvgTimeBetweenTx: tx.TimeSinceLast, AvgAmount: tx.Amount}
		profile.Pattern = Pattern{AvgVolume: tx.Volume, AvgFrequency: tx.Frequency}
	} else {
		profile.Behavior.AvgTimeBetweenTx = ewma(profile.Behavior.AvgTimeBetweenTx, tx.TimeSinceLast, alpha)
		profile.Behavior.AvgAmount = ewma(profile.Behavior.AvgAmount, tx.Amount, alpha)
		profile.Pattern.AvgVolume = ewma(profile.Pattern.AvgVolume, tx.Volume, alpha)
		profile.Pattern.AvgFrequency = ewma(profile.Pattern.AvgFrequency, tx.Frequency, alpha)
	}
	profile.Observations++
}

func ewma(prev, sample, alpha float64) float64 {
	return prev + alpha*(sample-prev)
}
