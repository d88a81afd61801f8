package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"shx-go/internal/app"
	"shx-go/internal/config"
	"shx-go/internal/encryption"
	"shx-go/internal/metastore"
	"shx-go/internal/model"
	"shx-go/internal/shx"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

// newApp reads the config and creates a ShxApp. The caller must close it with
// closeApp. operation names the CLI command being run.
func newApp(cmd *cobra.Command, operation string) (*app.ShxApp, error) {
	configPath, _ := cmd.Flags().GetString("config")
	root, _ := cmd.Flags().GetString("root")
	workers, _ := cmd.Flags().GetInt("workers")

	cfg, _, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}

	a, err := app.NewShxApp(cmd.Context(), cfg, operation, app.Overrides{
		Root:    root,
		WorkDir: cwd,
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// closeApp records the command outcome. Failing to close only warns.
func closeApp(a *app.ShxApp, cmdErr error) {
	if err := a.Close(cmdErr); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}

var rootCmd = &cobra.Command{
	Use:          "shx",
	Short:        "File management helper: duplicates, tags, moods and metadata search",
	SilenceUsage: true,
}

// deduplicate command
var deduplicateCmd = &cobra.Command{
	Use:   "deduplicate FOLDER",
	Short: "Find and remove byte-identical files",
	Long: `Groups files with identical content. The earliest created file of each
group is kept. With --dry-run nothing is deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		maxDepth, _ := cmd.Flags().GetInt("max-depth")

		a, err := newApp(cmd, "deduplicate")
		if err != nil {
			return err
		}
		defer func() { closeApp(a, err) }()

		report, err := a.Deduplicate(cmd.Context(), shx.DedupRequest{
			Path:     args[0],
			DryRun:   dryRun,
			MaxDepth: maxDepth,
		})
		if report != nil {
			printDedup(newPrinter(cmd), report)
		}
		return err
	},
}

// tag command
var tagCmd = &cobra.Command{
	Use:   "tag PATH ADD_TAGS [REMOVE_TAGS]",
	Short: "Add and remove comma-separated tags",
	Long: `Adds ADD_TAGS and then removes REMOVE_TAGS; a tag in both ends up removed.
An empty list is a no-op for that side. A folder tags its files.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		recursive, _ := cmd.Flags().GetBool("recursive")
		req := shx.TagRequest{
			Path:      args[0],
			Add:       metastore.ParseTagList(args[1]),
			Recursive: recursive,
		}
		if len(args) == 3 {
			req.Remove = metastore.ParseTagList(args[2])
		}

		a, err := newApp(cmd, "tag")
		if err != nil {
			return err
		}
		defer func() { closeApp(a, err) }()

		report, err := a.Tag(cmd.Context(), req)
		if report != nil {
			printTags(newPrinter(cmd), report)
		}
		return err
	},
}

// search-tag command
var searchTagCmd = &cobra.Command{
	Use:   "search-tag FOLDER TAG",
	Short: "List files carrying a tag",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		long, _ := cmd.Flags().GetBool("long")

		a, err := newApp(cmd, "search-tag")
		if err != nil {
			return err
		}
		defer func() { closeApp(a, err) }()

		report, err := a.SearchTag(cmd.Context(), args[0], args[1])
		if report != nil {
			printSearch(newPrinter(cmd), report, long)
		}
		return err
	},
}

// search-meta command
var searchMetaCmd = &cobra.Command{
	Use:   "search-meta FOLDER JSON_QUERY",
	Short: "List files matching a structured query",
	Long: `Evaluates a JSON predicate against every file under FOLDER.

Fields: type, size, date, age, tag, mood, mood_name
Operators: eq, gt, lt, gte, lte, contains
Combinators: and, or (arrays), not (object); an object is an implicit and.

Example:
  shx search-meta . '{"type":"image","size":{"gt":"5MB"}}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		long, _ := cmd.Flags().GetBool("long")

		a, err := newApp(cmd, "search-meta")
		if err != nil {
			return err
		}
		defer func() { closeApp(a, err) }()

		report, err := a.SearchMeta(cmd.Context(), args[0], args[1])
		if report != nil {
			printSearch(newPrinter(cmd), report, long)
		}
		return err
	},
}

// folder-mood command
var folderMoodCmd = &cobra.Command{
	Use:   "folder-mood PATH (--set VALUE [--name NAME] | --get [--recursive] [--mood-name FILTER])",
	Short: "Set or show folder moods",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		value, _ := cmd.Flags().GetString("set")
		name, _ := cmd.Flags().GetString("name")
		get, _ := cmd.Flags().GetBool("get")
		recursive, _ := cmd.Flags().GetBool("recursive")
		filter, _ := cmd.Flags().GetString("mood-name")
		setting := cmd.Flags().Changed("set")

		if setting == get {
			return errors.New("exactly one of --set or --get is required")
		}

		a, err := newApp(cmd, "folder-mood")
		if err != nil {
			return err
		}
		defer func() { closeApp(a, err) }()

		p := newPrinter(cmd)
		if setting {
			if err := a.SetMood(cmd.Context(), args[0], value, name); err != nil {
				return err
			}
			p.out("Mood of %s set to %s\n", p.path(args[0]), formatMood(model.Mood{Value: value, Name: name}))
			return nil
		}

		report, err := a.GetMoods(cmd.Context(), shx.MoodQuery{Path: args[0], Recursive: recursive, Filter: filter})
		if report != nil {
			printMoods(p, report)
		}
		return err
	},
}

// store command
var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage metadata store snapshots",
}

var storePushCmd = &cobra.Command{
	Use:   "push FOLDER",
	Short: "Upload the metadata store to the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "store-push")
		if err != nil {
			return err
		}
		defer func() { closeApp(a, err) }()

		report, err := a.PushStore(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		p := newPrinter(cmd)
		p.out("Uploaded store %s (generation %d, %d records) from %s\n",
			report.StoreID, report.RemoteGeneration, report.Entries, p.path(report.Root))
		return nil
	},
}

var storePullCmd = &cobra.Command{
	Use:   "pull FOLDER",
	Short: "Replace the metadata store with the vault snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		force, _ := cmd.Flags().GetBool("force")
		storeID, _ := cmd.Flags().GetString("store-id")

		a, err := newApp(cmd, "store-pull")
		if err != nil {
			return err
		}
		defer func() { closeApp(a, err) }()

		var passphrase string
		if a.NeedsPassphrase() {
			passphrase, err = promptPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
		}

		report, err := a.PullStore(cmd.Context(), shx.PullRequest{Path: args[0], StoreID: storeID, Force: force}, passphrase)
		if err != nil {
			return err
		}
		p := newPrinter(cmd)
		p.out("Restored store %s at %s: generation %d -> %d, %d records\n",
			report.StoreID, p.path(report.Root), report.LocalGeneration, report.RemoteGeneration, report.Entries)
		return nil
	},
}

var storePruneCmd = &cobra.Command{
	Use:   "prune FOLDER",
	Short: "Drop records of files that no longer exist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "store-prune")
		if err != nil {
			return err
		}
		defer func() { closeApp(a, err) }()

		report, err := a.PruneStore(cmd.Context(), args[0])
		if report != nil {
			printPrune(newPrinter(cmd), report)
		}
		return err
	},
}

var storeCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that the configured vault is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "store-check")
		if err != nil {
			return err
		}
		defer func() { closeApp(a, err) }()

		if err := a.ValidateVault(cmd.Context()); err != nil {
			return fmt.Errorf("vault check failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Vault OK")
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		encType, _ := cmd.Flags().GetString("encryption")
		configPath, _ := cmd.Flags().GetString("config")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		if configPath != "" {
			defaults.ConfigPath = configPath
		}

		cfg := config.NewConfig(defaults.BaseDir)
		cfg.Encryption.Type = encType

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc.NeedsPassphrase() && !enc.IsConfigured() {
			passphrase, err := promptNewPassphrase()
			if err != nil {
				return err
			}
			if err := enc.Setup(passphrase); err != nil {
				return fmt.Errorf("generating keys: %w", err)
			}
			fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Data Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, paths, err := app.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		if _, statErr := os.Stat(paths.ConfigPath); statErr != nil {
			fmt.Printf("# %s not found; showing defaults\n\n", paths.ConfigPath)
		} else {
			fmt.Printf("# Configuration from %s\n\n", paths.ConfigPath)
		}
		m := &config.Manager{}
		return m.Write(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default $SHX_CONFIG_PATH or ~/.config/shx.toml)")
	rootCmd.PersistentFlags().String("root", "", "Managed root holding the metadata store")
	rootCmd.PersistentFlags().Int("workers", 0, "Concurrent file reads (default from config)")

	rootCmd.AddCommand(deduplicateCmd)
	deduplicateCmd.Flags().BoolP("dry-run", "n", false, "Report duplicates without deleting")
	deduplicateCmd.Flags().Int("max-depth", 0, "Limit descent below FOLDER (0 = unbounded)")

	rootCmd.AddCommand(tagCmd)
	tagCmd.Flags().BoolP("recursive", "r", false, "Tag files in subfolders too")

	rootCmd.AddCommand(searchTagCmd)
	searchTagCmd.Flags().BoolP("long", "l", false, "Show size, date, kind and tags")

	rootCmd.AddCommand(searchMetaCmd)
	searchMetaCmd.Flags().BoolP("long", "l", false, "Show size, date, kind and tags")

	rootCmd.AddCommand(folderMoodCmd)
	folderMoodCmd.Flags().String("set", "", "Set the folder mood")
	folderMoodCmd.Flags().String("name", "", "Optional mood name (cleared when omitted)")
	folderMoodCmd.Flags().Bool("get", false, "Show the mood in effect")
	folderMoodCmd.Flags().BoolP("recursive", "r", false, "With --get, list every subfolder with a mood")
	folderMoodCmd.Flags().String("mood-name", "", "With --get, filter by mood value or name")

	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storePushCmd)
	storeCmd.AddCommand(storePullCmd)
	storePullCmd.Flags().Bool("force", false, "Replace a local store that is newer than the snapshot")
	storePullCmd.Flags().String("store-id", "", "Snapshot to pull when the local store cannot name it")
	storeCmd.AddCommand(storePruneCmd)
	storeCmd.AddCommand(storeCheckCmd)

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("encryption", "none", "Snapshot encryption: none or age")
	configCmd.AddCommand(configListCmd)
}
