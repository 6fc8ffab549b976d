package core

import (
	"PredictLedger/internal/command"
	"PredictLedger/internal/errs"
	"PredictLedger/internal/observability"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Processor is the single entry point for commands arriving from the
// network. It drops commands it has already applied, stamps the rest with
// its own clock and runs them through the Engine. Whatever timestamp the
// client sent is overwritten.
type Processor struct {
	mu      sync.Mutex
	engine  *Engine
	dedup   *commandDedup
	now     func() time.Time
	metrics *observability.Metrics
	logger  zerolog.Logger

	lastEvictions int64
}

func NewProcessor(engine *Engine, lruCapacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *Processor {
	return &Processor{
		engine:  engine,
		dedup:   newCommandDedup(lruCapacity, dbChecker, metrics),
		now:     time.Now,
		metrics: metrics,
		logger:  logger,
	}
}

// Submit applies cmd unless its command id was seen before. Duplicates
// succeed with Result.Duplicate set and change nothing.
func (p *Processor) Submit(ctx context.Context, cmd command.Command) (Result, error) {
	if cmd == nil || cmd.IdempotencyKey() == "" {
		return Result{}, errs.ErrMalformed
	}
	commandType := cmd.CommandType().String()
	key := cmd.IdempotencyKey()

	p.mu.Lock()
	defer p.mu.Unlock()

	seen, err := p.dedup.Seen(commandType, key)
	if err != nil {
		p.logger.Error().Err(err).
			Str("command_type", commandType).
			Str("command_id", key).
			Msg("duplicate check failed")
		return Result{}, err
	}
	if seen {
		if p.metrics != nil {
			p.metrics.CoreCommandsRejected.WithLabelValues(commandType, "duplicate").Inc()
		}
		p.logger.Debug().
			Str("command_type", commandType).
			Str("command_id", key).
			Msg("duplicate command skipped")
		return Result{Duplicate: true}, nil
	}

	cmd.Stamp(p.now().Unix())
	res, err := p.engine.Execute(ctx, cmd)
	if err != nil {
		ev := p.logger.Info()
		if errs.KindOf(err) == errs.KindInternal {
			ev = p.logger.Error()
		}
		ev.Err(err).
			Str("command_type", commandType).
			Str("command_id", key).
			Str("caller", cmd.Context().Caller.Hex()).
			Msg("command rejected")
		return Result{}, err
	}

	p.dedup.Applied(commandType, key)
	p.recordLRU()

	p.logger.Debug().
		Str("command_type", commandType).
		Str("command_id", key).
		Int64("sequence", res.Sequence).
		Msg("command applied")
	return res, nil
}

// SetClock replaces the wall clock used to stamp commands.
func (p *Processor) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// WarmLRU loads recently applied composite keys so restarts skip the DB tier.
func (p *Processor) WarmLRU(keys []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dedup.recent.Warm(keys)
	p.recordLRU()
}

// RecentKeys returns the LRU contents for inclusion in a snapshot.
func (p *Processor) RecentKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dedup.recent.Keys()
}

func (p *Processor) Engine() *Engine {
	return p.engine
}

func (p *Processor) recordLRU() {
	if p.metrics == nil {
		return
	}
	p.metrics.DedupLRUSize.Set(float64(p.dedup.recent.Len()))
	if ev := p.dedup.recent.evictions; ev > p.lastEvictions {
		p.metrics.DedupLRUEvictions.Add(float64(ev - p.lastEvictions))
		p.lastEvictions = ev
	}
}
