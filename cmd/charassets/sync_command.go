package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"charassets/assetsync"
	"charassets/domain"
	"charassets/store"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [character-id...]",
		Short: "Upload the recorded variants of every (or the given) character",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, cancel := signalContext(cmd.Context())
			defer cancel()

			rt, err := ctx.openRuntime(runCtx, runtimeNeeds{objectStore: true})
			if err != nil {
				return err
			}
			defer rt.close()
			defer rt.finish("charassets-sync")

			variants := recordedVariants(rt, args)
			sum, err := rt.sync(runCtx, variants)
			printSyncSummary(cmd, sum)
			return err
		},
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags probeFlags
	cmd := &cobra.Command{
		Use:   "run [character-id...]",
		Short: "Probe, classify and sync in one pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, cancel := signalContext(cmd.Context())
			defer cancel()

			rt, err := ctx.openRuntime(runCtx, runtimeNeeds{objectStore: true})
			if err != nil {
				return err
			}
			defer rt.close()
			defer rt.finish("charassets-run")

			res, scan, err := rt.probe(runCtx, args, flags)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned: %d active: %d stable: %d npc: %d\n", scan.Scanned, scan.Active, scan.Stable, scan.NPC)

			sum, err := rt.sync(runCtx, res.Flatten())
			printSyncSummary(cmd, sum)
			return err
		},
	}
	flags.bind(cmd)
	return cmd
}

func printSyncSummary(cmd *cobra.Command, sum assetsync.Summary) {
	fmt.Fprintf(cmd.OutOrStdout(), "processed: %d uploaded: %d skipped: %d failed: %d\n",
		sum.Processed, sum.Uploaded, sum.Skipped, sum.Failed)
}

func (rt *runtime) sync(ctx context.Context, variants []string) (assetsync.Summary, error) {
	start := time.Now()
	uploads, err := store.OpenUploadLedger(rt.cfg.UploadLedgerPath())
	if err != nil {
		return assetsync.Summary{}, fmt.Errorf("open upload ledger: %w", err)
	}
	failures, err := store.OpenFailureLedger(rt.cfg.FailureLedgerPath())
	if err != nil {
		return assetsync.Summary{}, fmt.Errorf("open failure ledger: %w", err)
	}

	deps := assetsync.Deps{
		Store:      rt.oss,
		Downloader: rt.net,
		Sources:    rt.cfg.Sources(),
		Uploads:    uploads,
		Failures:   failures,
	}
	if rt.cfg.EnableFormatConversion {
		deps.Converter = assetsync.ExecConverter{Bin: rt.cfg.ConvertBin, Quality: rt.cfg.ConvertQuality}
	}
	if rt.notifier != nil {
		deps.Notifier = rt.notifier
	}

	p, err := assetsync.New(deps, assetsync.Options{
		ConvertFormat: rt.cfg.EnableFormatConversion,
		CleanCache:    rt.cfg.CleanCacheAfterUpload,
		FlushEvery:    rt.cfg.FlushEvery,
		CacheDir:      rt.cfg.CacheDir,
	}, rt.logger)
	if err != nil {
		return assetsync.Summary{}, err
	}
	sum, err := p.Sync(ctx, variants)
	rt.logger.Info("sync done", "processed", sum.Processed, "uploaded", sum.Uploaded, "failed", sum.Failed, "elapsed", time.Since(start).String())
	return sum, err
}

// recordedVariants lists the registry's last confirmed variants for ids (all
// characters when ids is empty).
func recordedVariants(rt *runtime, ids []string) []string {
	res := make(domain.ProbeResult)
	for _, c := range candidatesFor(rt, ids) {
		if v := rt.registry.Variants(c.ID); len(v) > 0 {
			res[c.ID] = v
		}
	}
	return res.Flatten()
}
