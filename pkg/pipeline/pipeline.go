// Package pipeline sequences the three analysis stages over one scan:
// rule checks, classifier, contextual detective. Short-circuit rules
// decide how far an email travels; every path ends with a persisted
// scan record.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SafeInboxAI/warden/pkg/cache"
	"github.com/SafeInboxAI/warden/pkg/classifier"
	"github.com/SafeInboxAI/warden/pkg/detective"
	"github.com/SafeInboxAI/warden/pkg/email"
	"github.com/SafeInboxAI/warden/pkg/metrics"
	"github.com/SafeInboxAI/warden/pkg/rules"
	"github.com/SafeInboxAI/warden/pkg/scan"
	"github.com/SafeInboxAI/warden/pkg/store"
)

// Stage keys in the scan record.
const (
	stage1Key = "layer1"
	stage2Key = "layer2"
	stage3Key = "layer3"
)

// Pipeline owns the scan lifecycle end to end.
type Pipeline struct {
	cache     cache.Cache
	engine    *rules.Engine
	adapter   *classifier.Adapter
	detective *detective.Detective
	store     store.Store
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New wires the orchestrator. cache may be nil to disable result
// caching; everything else is required.
func New(c cache.Cache, engine *rules.Engine, adapter *classifier.Adapter, det *detective.Detective, st store.Store, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cache:     c,
		engine:    engine,
		adapter:   adapter,
		detective: det,
		store:     st,
		metrics:   m,
		logger:    logger,
	}
}

// Scan runs one email through the pipeline. An input error (nothing to
// analyze) is returned to the caller and leaves no record; every other
// failure mode still produces a finalized, persisted record.
func (p *Pipeline) Scan(ctx context.Context, raw *email.RawEmail) (*scan.Record, error) {
	msg, err := email.Normalize(*raw)
	if err != nil {
		p.metrics.ScansRejected.Add(1)
		return nil, err
	}

	start := time.Now()
	now := start.UTC()
	record := &scan.Record{
		ScanID:      scan.NewScanID(now, msg.UserID),
		Timestamp:   now,
		UserID:      msg.UserID,
		Sender:      msg.Sender,
		Subject:     msg.Subject,
		Stages:      make(map[string]*scan.StageResult, 3),
		ThreatLevel: scan.ThreatUnknown,
		CreatedAt:   now,
	}
	p.metrics.ScansTotal.Add(1)

	p.run(ctx, msg, record)

	record.Elapsed = time.Since(start).Seconds()
	p.metrics.RecordVerdict(string(record.Verdict))
	p.logger.Info("scan complete",
		zap.String("scan_id", record.ScanID),
		zap.String("verdict", string(record.Verdict)),
		zap.Float64("confidence", record.Confidence),
		zap.Float64("seconds", record.Elapsed))

	p.persist(ctx, record)
	return record, nil
}

// run executes the stage state machine. A panic in any stage is
// converted to an error verdict so the record still finalizes.
func (p *Pipeline) run(ctx context.Context, msg *email.Message, record *scan.Record) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("scan pipeline panic",
				zap.String("scan_id", record.ScanID), zap.Any("panic", r))
			record.Verdict = scan.VerdictError
			record.ThreatLevel = scan.ThreatUnknown
			record.Confidence = 0
			record.Error = fmt.Sprintf("pipeline failure: %v", r)
		}
	}()

	stage1 := p.runStage1(ctx, msg)
	record.Stages[stage1Key] = stage1

	if stage1.Status == scan.StatusThreat {
		record.Verdict = scan.VerdictThreat
		record.ThreatLevel = scan.ThreatHigh
		record.Confidence = stage1.Confidence
		return
	}

	p.metrics.Stage2Runs.Add(1)
	stage2 := p.adapter.Analyze(ctx, msg, stage1.Indicators)
	record.Stage2 = stage2
	record.Stages[stage2Key] = &stage2.StageResult
	if stage2.FallbackMode {
		p.metrics.ClassifierFallbacks.Add(1)
	}

	if p.adapter.ShortCircuits(stage2) {
		record.Verdict = scan.VerdictSafe
		record.ThreatLevel = scan.ThreatLow
		record.Confidence = stage2.Confidence
		return
	}

	if !p.adapter.Escalates(stage2) {
		// Benign in the middle band: no short-circuit, but nothing
		// worth the contextual stage either.
		record.Verdict = scan.VerdictSafe
		record.ThreatLevel = scan.ThreatLow
		record.Confidence = stage2.Confidence
		return
	}

	p.metrics.Stage3Runs.Add(1)
	stage3 := p.detective.Analyze(ctx, msg, stage2)
	record.Stage3 = stage3
	record.Stages[stage3Key] = &stage3.StageResult

	record.Verdict = stage3.Verdict
	record.ThreatLevel = stage3.ThreatLevel
	record.Confidence = stage3.Confidence
}

// runStage1 consults the cache before the rule engine. Cache failures
// fall through to a full check; a fresh result is written back keyed by
// the sender/subject fingerprint.
func (p *Pipeline) runStage1(ctx context.Context, msg *email.Message) *scan.StageResult {
	if p.cache == nil {
		return p.engine.Check(msg)
	}

	fp := cache.Fingerprint(msg.Sender, msg.Subject)
	if entry, err := p.cache.Get(ctx, fp); err == nil {
		if cached, ok := entry.Stages[stage1Key]; ok {
			p.metrics.CacheHits.Add(1)
			out := *cached
			out.Cached = true
			return &out
		}
	} else if err != cache.ErrNotFound {
		p.logger.Warn("cache lookup failed", zap.Error(err))
	}
	p.metrics.CacheMisses.Add(1)

	result := p.engine.Check(msg)

	entry := &scan.Record{
		Sender:    msg.Sender,
		Subject:   msg.Subject,
		Timestamp: time.Now().UTC(),
		Stages:    map[string]*scan.StageResult{stage1Key: result},
	}
	if err := p.cache.Set(ctx, fp, entry); err != nil {
		p.logger.Warn("cache write failed", zap.Error(err))
	}
	return result
}

// persist saves the finalized record. A storage failure is logged and
// counted; the verdict already returned to the caller stands.
func (p *Pipeline) persist(ctx context.Context, record *scan.Record) {
	if err := p.store.SaveScan(ctx, record); err != nil {
		p.metrics.PersistFailures.Add(1)
		p.logger.Error("scan record persistence failed",
			zap.String("scan_id", record.ScanID), zap.Error(err))
	}
}
