package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"charassets/netx"
	"charassets/registry"
	"charassets/store"
)

func newRegistryCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Maintain the character registry",
	}
	cmd.AddCommand(newRegistryImportCommand(ctx))
	return cmd
}

func newRegistryImportCommand(ctx *commandContext) *cobra.Command {
	var lang, file, remote string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Merge story parser output into the registry and rebuild the language indices",
		Long: "Reads parser output ({characterId: {names, sourceFiles}}) from a local file or,\n" +
			"with --remote, from the data mirrors (primary first, falling back on failure).",
		RunE: func(cmd *cobra.Command, args []string) error {
			file = strings.TrimSpace(file)
			remote = strings.TrimSpace(remote)
			if (file == "") == (remote == "") {
				return errors.New("exactly one of --file or --remote is required")
			}

			rt, err := ctx.openRuntime(cmd.Context(), runtimeNeeds{})
			if err != nil {
				return err
			}
			defer rt.close()

			var parsed map[string]registry.ParsedCharacter
			if file != "" {
				found, err := store.ReadJSON(file, &parsed)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				if !found {
					return fmt.Errorf("%s is missing or empty", file)
				}
			} else {
				res := netx.LoadInto[map[string]registry.ParsedCharacter](cmd.Context(), rt.net, remote, rt.cfg.LoadOptions())
				v, ok := res.Get()
				if !ok {
					return fmt.Errorf("load %s from mirrors: %s", remote, res.Reason())
				}
				parsed = v
			}

			added := rt.registry.Merge(lang, parsed, time.Now())
			if err := rt.registry.Flush(); err != nil {
				return fmt.Errorf("flush registry: %w", err)
			}
			rt.logger.Info("registry import done", "lang", lang, "parsed", len(parsed), "added", added, "total", rt.registry.Len())
			fmt.Fprintf(cmd.OutOrStdout(), "parsed: %d added: %d total: %d\n", len(parsed), added, rt.registry.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "zh_CN", "Language of the parser output")
	cmd.Flags().StringVar(&file, "file", "", "Local parser output JSON")
	cmd.Flags().StringVar(&remote, "remote", "", "Path of the parser output on the data mirrors")
	return cmd
}
