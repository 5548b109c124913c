// Package sweeper periodically removes expired OTPs and refresh tokens and prunes idle rate-limit buckets.
package sweeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Target is anything that can physically delete its expired records.
type Target interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Pruner drops idle in-memory state.
type Pruner interface {
	Prune() int
}

// Result reports one sweep.
type Result struct {
	OTPs   int64
	Tokens int64
}

// Sweeper runs expiry sweeps out of the request path.
type Sweeper struct {
	otps   Target
	tokens Target
	peers  Pruner
	log    *zap.Logger
}

// New constructs a Sweeper. peers may be nil.
func New(otps, tokens Target, peers Pruner, log *zap.Logger) *Sweeper {
	return &Sweeper{otps: otps, tokens: tokens, peers: peers, log: log.Named("sweeper")}
}

// RunOnce sweeps both tables. A failure on one table does not skip the other.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	var errOTP, errTok error
	res.OTPs, errOTP = s.otps.SweepExpired(ctx)
	res.Tokens, errTok = s.tokens.SweepExpired(ctx)
	if s.peers != nil {
		s.peers.Prune()
	}
	return res, errors.Join(errOTP, errTok)
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				s.log.Warn("sweep failed", zap.Error(err))
				continue
			}
			if res.OTPs > 0 || res.Tokens > 0 {
				s.log.Debug("swept", zap.Int64("otps", res.OTPs), zap.Int64("refresh_tokens", res.Tokens))
			}
		}
	}
}
