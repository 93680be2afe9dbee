package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"charassets/domain"
	"charassets/prober"
	"charassets/scanstats"
)

type probeFlags struct {
	skipSettled bool
	basic       bool
	workers     int
}

func (f *probeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.skipSettled, "skip-settled", false, "Reuse recorded variants for stable/npc characters instead of probing them")
	cmd.Flags().BoolVar(&f.basic, "basic", false, "Probe the basic 5x1 range instead of smart detection")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Probe workers (default from CHARASSETS_PROBE_WORKERS)")
}

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var flags probeFlags
	cmd := &cobra.Command{
		Use:   "probe [character-id...]",
		Short: "Probe image variants and update scan stability stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, cancel := signalContext(cmd.Context())
			defer cancel()

			rt, err := ctx.openRuntime(runCtx, runtimeNeeds{})
			if err != nil {
				return err
			}
			defer rt.close()
			defer rt.finish("charassets-probe")

			res, sum, err := rt.probe(runCtx, args, flags)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "characters: %d variants: %d scanned: %d active: %d stable: %d npc: %d\n",
				len(res), len(res.Flatten()), sum.Scanned, sum.Active, sum.Stable, sum.NPC)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

// probe runs the prober over the requested ids (or the whole registry),
// classifies the result and records the confirmed variants. The returned
// result also carries the recorded variants of skipped settled characters.
func (rt *runtime) probe(ctx context.Context, ids []string, flags probeFlags) (domain.ProbeResult, scanstats.Summary, error) {
	start := time.Now()
	sources := rt.cfg.Sources()
	if len(sources) == 0 {
		return nil, scanstats.Summary{}, errors.New("CHARASSETS_ASSET_SOURCES is empty")
	}

	candidates := candidatesFor(rt, ids)
	if len(candidates) == 0 {
		return nil, scanstats.Summary{}, errors.New("no candidates: pass character ids or run `registry import` first")
	}

	kept := make(domain.ProbeResult)
	if flags.skipSettled {
		all, err := rt.scanStats.All()
		if err != nil {
			return nil, scanstats.Summary{}, fmt.Errorf("load scan stats: %w", err)
		}
		candidates, kept = splitSettled(candidates, all, rt.registry.Variants)
		rt.logger.Info("skipping settled characters", "skipped", len(kept), "probing", len(candidates))
	}

	opts := rt.cfg.ProberOptions()
	if flags.basic {
		opts.SmartDetection = false
	}
	if flags.workers > 0 {
		opts.Workers = flags.workers
	}
	res := prober.New(rt.net, sources, opts, rt.logger).Run(ctx, candidates)
	if err := ctx.Err(); err != nil {
		// partial probes would read as variant-count changes; keep the old history
		return nil, scanstats.Summary{}, err
	}

	tracker := scanstats.NewTracker(rt.scanStats, rt.cfg.Thresholds(), rt.logger)
	sum, err := tracker.Update(res)
	if err != nil {
		return nil, sum, err
	}
	if err := rt.scanStats.Flush(); err != nil {
		return nil, sum, fmt.Errorf("flush scan stats: %w", err)
	}

	rt.registry.SetVariants(res, time.Now())
	if err := rt.registry.Flush(); err != nil {
		return nil, sum, fmt.Errorf("flush registry: %w", err)
	}

	for id, v := range kept {
		res[id] = v
	}
	rt.logger.Info("probe done", "characters", len(res), "scanned", sum.Scanned, "changed", len(sum.Changed), "elapsed", time.Since(start).String())
	return res, sum, nil
}

func candidatesFor(rt *runtime, ids []string) []domain.CharacterCandidate {
	if len(ids) == 0 {
		return rt.registry.Candidates()
	}
	out := make([]domain.CharacterCandidate, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, domain.CharacterCandidate{ID: id})
		}
	}
	return out
}

// splitSettled separates stable/npc characters that already have recorded
// variants; everything else still needs a probe.
func splitSettled(cands []domain.CharacterCandidate, stats map[string]domain.ScanStats, recorded func(string) []string) ([]domain.CharacterCandidate, domain.ProbeResult) {
	kept := make(domain.ProbeResult)
	probe := make([]domain.CharacterCandidate, 0, len(cands))
	for _, c := range cands {
		st, ok := stats[c.ID]
		if ok && st.Settled() {
			if prev := recorded(c.ID); len(prev) > 0 {
				kept[c.ID] = prev
				continue
			}
		}
		probe = append(probe, c)
	}
	return probe, kept
}
