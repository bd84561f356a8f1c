package radius

import (
	"math/rand/v2"
	"time"
)

// RetryOutcome is the result of a RetryEngine tick (§4.2).
type RetryOutcome int

const (
	RetryContinue RetryOutcome = iota
	RetryMRCExceeded
	RetryMRDExceeded
)

// RetryConfig is (initial_rt, max_rt, mrc, mrd) per §3/§6. Mrc == 0 means
// unlimited count (bounded only by Mrd); Mrd == 0 means unlimited duration
// (bounded only by Mrc). At least one of the two should be set by the
// embedder, matching the teacher's backoff which always carries a cap.
type RetryConfig struct {
	InitialRT time.Duration
	MaxRT     time.Duration
	MRC       int
	MRD       time.Duration
}

// RetryState is {start, updated, next_fire, rt, count, config} (§3).
// It is pure data plus pure-function transitions — no I/O, matching the
// teacher's backoff struct (internal/sip/trunk.go) which this is a direct,
// generalized descendant of: that struct is doubling + cap + jitter over
// bare attempt counts; this adds the MRC/MRD exit conditions and exposes
// the next-fire deadline the timer callback reads.
type RetryState struct {
	Config    RetryConfig
	Start     time.Time
	Updated   time.Time
	NextFire  time.Time
	RT        time.Duration
	Count     int
}

// Initial resets state for a freshly-sent packet: rt = initial_rt,
// count = 1, start = updated = now (§4.2).
func Initial(cfg RetryConfig, now time.Time) *RetryState {
	rt := cfg.InitialRT
	if rt <= 0 {
		rt = 1
	}
	return &RetryState{
		Config:   cfg,
		Start:    now,
		Updated:  now,
		NextFire: now.Add(rt),
		RT:       rt,
		Count:    1,
	}
}

// Next evaluates the retry engine at time now. On RetryContinue it
// updates rt by doubling (capped at max_rt), applies ±10% jitter, sets
// NextFire = now + rt, and increments Count. It reports MRCExceeded when
// the incremented Count would exceed MRC (if MRC > 0), so at most MRC
// sends are made in total, and MRDExceeded when now - Start > MRD (if
// MRD > 0); MRD is checked first since a duration bound can fire before a
// count bound even reaches it.
func (s *RetryState) Next(now time.Time) RetryOutcome {
	if s.Config.MRD > 0 && now.Sub(s.Start) > s.Config.MRD {
		return RetryMRDExceeded
	}
	if s.Config.MRC > 0 && s.Count+1 > s.Config.MRC {
		return RetryMRCExceeded
	}

	rt := s.RT * 2
	if s.Config.MaxRT > 0 && rt > s.Config.MaxRT {
		rt = s.Config.MaxRT
	}
	rt = jitter(rt)
	if rt <= 0 {
		rt = 1
	}

	s.RT = rt
	s.Updated = now
	s.NextFire = now.Add(rt)
	s.Count++
	return RetryContinue
}

// jitter applies uniform jitter in [-0.1*d, +0.1*d], matching the ±10%
// bound required by §4.2 and §8 (tighter than the teacher's ±20%, which
// the teacher uses for whole-trunk registration backoff rather than a
// single in-flight packet's retransmit schedule).
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.1
	delta := spread * (2*rand.Float64() - 1)
	return d + time.Duration(delta)
}
