package nfc

import (
	"context"
	"log"
	"os"
	"time"
)

// SessionRunner runs one read session to completion.
type SessionRunner interface {
	Read(ctx context.Context, opts ReadOptions) ScanOutcome
}

// ContinuousScanner repeats read sessions, leaving a cooldown after each so
// the same physical tap is not read twice.
type ContinuousScanner struct {
	runner     SessionRunner
	clock      Clock
	cooldown   time.Duration
	errorGrace time.Duration
	logger     *log.Logger
}

// NewContinuousScanner creates a scanner. Zero durations use DefaultCooldown and DefaultErrorGrace.
func NewContinuousScanner(runner SessionRunner, clock Clock, cooldown, errorGrace time.Duration) *ContinuousScanner {
	if clock == nil {
		clock = NewRealClock()
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if errorGrace <= 0 {
		errorGrace = DefaultErrorGrace
	}
	return &ContinuousScanner{
		runner:     runner,
		clock:      clock,
		cooldown:   cooldown,
		errorGrace: errorGrace,
		logger:     log.New(os.Stderr, "[continuous] ", log.LstdFlags),
	}
}

// Run starts sessions back to back until ctx is done, passing each outcome to onOutcome.
//
// The cooldown follows every delivered outcome. The session started right
// after a success may fail within the error grace because the tag that just
// succeeded is still on the reader; that error is not delivered and the next
// session starts without a cooldown.
func (cs *ContinuousScanner) Run(ctx context.Context, opts ReadOptions, onOutcome func(ScanOutcome)) error {
	afterSuccess := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := cs.clock.Now()
		out := cs.runner.Read(ctx, opts)
		if err := ctx.Err(); err != nil {
			return err
		}

		if !out.Success && afterSuccess && cs.clock.Now().Sub(started) < cs.errorGrace {
			cs.logger.Printf("Suppressing %s shortly after a successful read", out.Kind)
			afterSuccess = false
			continue
		}
		afterSuccess = out.Success
		onOutcome(out)

		select {
		case <-cs.clock.After(cs.cooldown):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
