package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ucinar/exepad-runtime/internal/config"
	"github.com/ucinar/exepad-runtime/internal/fetch"
	"github.com/ucinar/exepad-runtime/internal/log"
	"github.com/ucinar/exepad-runtime/internal/notice"
	"github.com/ucinar/exepad-runtime/internal/pubsub"
	"github.com/ucinar/exepad-runtime/internal/registry"
	"github.com/ucinar/exepad-runtime/internal/render"
	"github.com/ucinar/exepad-runtime/internal/runtime"
	"github.com/ucinar/exepad-runtime/internal/session"
	"github.com/ucinar/exepad-runtime/internal/tracing"
	"github.com/ucinar/exepad-runtime/internal/transport"
	"github.com/ucinar/exepad-runtime/internal/ui/preview"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts. This prevents the terminal's OSC 11
	// response from racing with Bubble Tea's input loop and appearing as
	// garbage text in input fields.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "exepad",
	Short:   "A terminal preview for exepad page configurations",
	Long:    `Renders an exepad page configuration in the terminal, watches it for changes, and follows live edits over the editor channel.`,
	Version: version,
	RunE:    runPreview,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/exepad/config.yaml)")
	rootCmd.Flags().StringP("file", "f", "",
		"path to a local page config JSON file")
	rootCmd.Flags().String("app", "", "app id to fetch from the hosting service")
	rootCmd.Flags().String("route", "", "route slug to render")
	rootCmd.Flags().Bool("no-watch", false,
		"disable file watching for local configs")

	_ = viper.BindPFlag("app.app_id", rootCmd.Flags().Lookup("app"))
	_ = viper.BindPFlag("app.route", rootCmd.Flags().Lookup("route"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("app.mode", defaults.App.Mode)
	viper.SetDefault("app.route", defaults.App.Route)
	viper.SetDefault("session.preview", true)
	viper.SetDefault("ui.show_status_bar", defaults.UI.ShowStatusBar)
	viper.SetDefault("ui.markdown_style", defaults.UI.MarkdownStyle)
	viper.SetDefault("ui.width", defaults.UI.Width)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .exepad/config.yaml (current directory)
		// 2. ~/.config/exepad/config.yaml (user config)
		if _, err := os.Stat(".exepad/config.yaml"); err == nil {
			viper.SetConfigFile(".exepad/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "exepad"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create default at .exepad/config.yaml
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := ".exepad/config.yaml"
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	cfg = config.Defaults()
	_ = viper.Unmarshal(&cfg)
}

func runPreview(cmd *cobra.Command, args []string) error {
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCleanup, err := log.InitWithTeaLog(logPath(), "exepad")
	if err == nil {
		defer logCleanup()
	}

	if cfg.Tracing.Enabled && cfg.Tracing.FilePath == "" {
		cfg.Tracing.FilePath = config.DefaultTracesFilePath()
	}
	tracer, err := tracing.NewProvider(context.Background(), cfg.Tracing)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer tracer.Shutdown(context.Background())

	reg := registry.New()
	reg.RegisterPaths(render.BuiltinLoaders())

	source, watchPath, err := resolveSource(cmd)
	if err != nil {
		return err
	}

	notices := notice.NewBroker()
	var controller *session.Controller
	rt := runtime.New(cfg.App, runtime.Deps{
		Source:   source,
		Registry: reg,
		Notices:  notices,
		Tracer:   tracer,
		BusyFn: func(id string) bool {
			return controller != nil && controller.Busy(id)
		},
	})
	defer rt.Close()

	var channel transport.Channel
	if cfg.Transport.URL != "" {
		channel = transport.NewWebsocketChannel(cfg.Transport, notices)
		controller = session.New(cfg.Session, session.Deps{
			Channel:   channel,
			Store:     rt.Store(),
			Embedding: session.StaticEmbedding(cfg.Session.Preview),
			Tokens:    session.Chain{session.SourceFunc(tokenFromEnv)},
			Notices:   notices,
			Reload:    rt.Reload,
			Refetch: func(ctx context.Context, changedID string) error {
				return rt.Refresh(ctx)
			},
			OnBusy: func(id string, busy bool) {
				rt.Updates().Publish(pubsub.UpdatedEvent, id)
			},
		})
		if err := controller.Start(context.Background(), cfg.App.AppID, newSessionID()); err != nil {
			return fmt.Errorf("starting session: %w", err)
		}
		defer controller.Stop()
		rt.SetLive(true)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if watchPath != "" {
		if noWatch, _ := cmd.Flags().GetBool("no-watch"); !noWatch {
			stopWatch, err := watchAndRefresh(ctx, rt, watchPath)
			if err != nil {
				return err
			}
			defer stopWatch()
		}
	}

	model := preview.New(ctx, preview.Options{
		Runtime:       rt,
		Channel:       channel,
		NoticeBroker:  notices,
		Slug:          cfg.App.Route,
		ShowStatusBar: cfg.UI.ShowStatusBar,
	})
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running program: %w", err)
	}
	return nil
}

// resolveSource picks the tree source: an explicit local file wins,
// otherwise the hosting service with the configured app id.
func resolveSource(cmd *cobra.Command) (fetch.TreeSource, string, error) {
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		return fetch.NewFileSource(file), file, nil
	}
	if cfg.App.AppID == "" {
		return nil, "", fmt.Errorf("either --file or an app id (--app / app.app_id) is required")
	}
	if cfg.ConfigURL == "" {
		return nil, "", fmt.Errorf("config_url is required to fetch app %q", cfg.App.AppID)
	}
	return fetch.NewHTTPSource(cfg.ConfigURL, nil), "", nil
}

// watchAndRefresh refreshes the runtime whenever the local config file
// changes; the diff path re-renders only nodes that actually moved.
func watchAndRefresh(ctx context.Context, rt *runtime.Runtime, path string) (func(), error) {
	w, err := fetch.NewWatcher(fetch.DefaultWatcherConfig(path))
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	changes, err := w.Start()
	if err != nil {
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}
	log.SafeGo("config-watch", func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				if err := rt.Refresh(ctx); err != nil {
					log.ErrorErr(log.CatWatcher, "refresh after change failed", err)
				}
			}
		}
	})
	return func() { _ = w.Stop() }, nil
}

func tokenFromEnv(context.Context) (string, error) {
	return os.Getenv("EXEPAD_EDIT_TOKEN"), nil
}

func newSessionID() string {
	return fmt.Sprintf("preview-%d", os.Getpid())
}

func logPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "exepad.log"
	}
	return filepath.Join(home, ".config", "exepad", "exepad.log")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
