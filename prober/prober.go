package prober

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"charassets/domain"
	"charassets/netx"
	"charassets/obs"
)

// Probe ranges. Smart detection widens the search and is what production runs use.
const (
	SmartMaxFace = 15
	SmartMaxBody = 3
	BasicMaxFace = 5
	BasicMaxBody = 1

	// DefaultEarlyExitAfterFace: a full miss on any face past this one ends the
	// character's search. Variant indices are contiguous in practice.
	DefaultEarlyExitAfterFace = 2

	DefaultWorkers = 8
)

// Exister is the existence check the prober issues; *netx.Client implements it.
type Exister interface {
	ProbeExists(ctx context.Context, url string) bool
}

type Options struct {
	SmartDetection bool
	Workers        int
	// MaxFace/MaxBody override the mode's range when > 0.
	MaxFace int
	MaxBody int
	// EarlyExitAfterFace overrides DefaultEarlyExitAfterFace when > 0.
	EarlyExitAfterFace int
}

func (o Options) bounds() (maxFace, maxBody int) {
	maxFace, maxBody = BasicMaxFace, BasicMaxBody
	if o.SmartDetection {
		maxFace, maxBody = SmartMaxFace, SmartMaxBody
	}
	if o.MaxFace > 0 {
		maxFace = o.MaxFace
	}
	if o.MaxBody > 0 {
		maxBody = o.MaxBody
	}
	return maxFace, maxBody
}

func (o Options) earlyExitAfter() int {
	if o.EarlyExitAfterFace > 0 {
		return o.EarlyExitAfterFace
	}
	return DefaultEarlyExitAfterFace
}

type Prober struct {
	exister Exister
	sources []netx.AssetSource
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
}

func New(exister Exister, sources []netx.AssetSource, opts Options, logger *slog.Logger) *Prober {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		exister: exister,
		sources: sources,
		opts:    opts,
		logger:  logger,
		tracer:  obs.Tracer("charassets/prober"),
	}
}

type partial struct {
	worker int
	result domain.ProbeResult
}

// Run probes every candidate. Candidates are split into disjoint slices, one
// per worker; workers share nothing and report through a single channel.
func (p *Prober) Run(ctx context.Context, candidates []domain.CharacterCandidate) domain.ProbeResult {
	start := time.Now()
	ids := uniqueIDs(candidates)
	out := make(domain.ProbeResult, len(ids))
	if len(ids) == 0 {
		return out
	}

	workers := p.opts.Workers
	if workers > len(ids) {
		workers = len(ids)
	}
	parts := partition(ids, workers)

	results := make(chan partial, workers)
	for i, part := range parts {
		go func(worker int, ids []string) {
			res := make(domain.ProbeResult, len(ids))
			for _, id := range ids {
				res[id] = p.ProbeCharacter(ctx, id)
			}
			results <- partial{worker: worker, result: res}
		}(i, part)
	}
	for range parts {
		pr := <-results
		for id, variants := range pr.result {
			out[id] = variants
		}
	}
	obs.RecordStage("probe", start, nil)
	p.logger.Info("probe finished", "characters", len(out), "workers", workers, "elapsed", time.Since(start).String())
	return out
}

// ProbeCharacter searches face-major, body-minor. Order matters: the early exit
// assumes every lower face was already tried.
func (p *Prober) ProbeCharacter(ctx context.Context, characterID string) []string {
	ctx, span := p.tracer.Start(ctx, "probe.character", trace.WithAttributes(attribute.String("character.id", characterID)))
	defer span.End()

	maxFace, maxBody := p.opts.bounds()
	earlyExit := p.opts.earlyExitAfter()

	var found []string
search:
	for face := 1; face <= maxFace; face++ {
		for body := 1; body <= maxBody; body++ {
			v := domain.NewVariantID(characterID, face, body).String()
			if p.existsOnAnySource(ctx, v) {
				found = append(found, v)
				continue
			}
			if face > earlyExit {
				break search
			}
		}
	}

	obs.RecordProbedCharacter(len(found) > 0)
	span.SetAttributes(attribute.Int("variants.found", len(found)))
	if len(found) == 0 {
		p.logger.Debug("no variant confirmed, using base variant", "character", characterID)
	}
	return domain.NormalizeVariants(characterID, found)
}

// existsOnAnySource stops at the first source that has the file.
func (p *Prober) existsOnAnySource(ctx context.Context, variant string) bool {
	for _, src := range p.sources {
		if p.exister.ProbeExists(ctx, src.URL(variant)) {
			return true
		}
	}
	return false
}

func uniqueIDs(candidates []domain.CharacterCandidate) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// partition deals ids round-robin into n disjoint slices.
func partition(ids []string, n int) [][]string {
	if n <= 0 {
		n = 1
	}
	parts := make([][]string, n)
	for i, id := range ids {
		parts[i%n] = append(parts[i%n], id)
	}
	return parts
}
