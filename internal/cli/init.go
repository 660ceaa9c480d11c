package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/shelf/internal/paths"
	"github.com/mesh-intelligence/shelf/pkg/store"
)

func newInitCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize shelf storage",
		Long: "Create the configuration directory and config.yaml if missing, then\n" +
			"attach the configured backend once to create its storage.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.configDir == "" {
				// init creates a project directory instead of reusing the
				// per-user one.
				if _, ok := paths.FindProjectDir("."); !ok {
					flags.configDir = paths.DefaultConfigDirName
				}
			}
			s, err := loadSettings(flags)
			if err != nil {
				return userError("%v", err)
			}
			written, err := writeConfigIfMissing(s.configDir, s.store)
			if err != nil {
				return sysError("write config: %v", err)
			}

			st, err := store.Open(s.store)
			if err != nil {
				return sysError("initialize storage: %v", err)
			}
			if err := st.Detach(); err != nil {
				return sysError("finalize storage: %v", err)
			}

			out := cmd.OutOrStdout()
			if written {
				fmt.Fprintf(out, "wrote %s\n", paths.ConfigFile(s.configDir))
			}
			fmt.Fprintf(out, "shelf initialized (%s, database %s)\n", s.store.Backend, s.store.Database())
			return nil
		},
	}
}
