package offload

import (
	"context"
	"time"
)

func noop(ctx context.Context, _ any) (any, error) {
	return nil, nil
}

// Probe measures one full offload round trip of a no-op function.
func (o *Offloader) Probe(ctx context.Context) error {
	_, err := Offload(ctx, o, noop, nil).Await(ctx)
	return err
}

// Calibrate measures the real isolation overhead with samples probes and
// stores the median in the offloader's policy.
func (o *Offloader) Calibrate(ctx context.Context, samples int) (time.Duration, error) {
	d, err := o.policy.Calibrate(ctx, o.Probe, samples)
	if err != nil {
		return 0, err
	}
	o.logger.Infof("calibrated spawn overhead: %v", d)
	return d, nil
}
