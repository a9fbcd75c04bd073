package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sevlyar/go-daemon"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/driftbg/driftbg/internal/cache"
	"github.com/driftbg/driftbg/internal/compositor/wayland"
	"github.com/driftbg/driftbg/internal/config"
	"github.com/driftbg/driftbg/internal/core"
	"github.com/driftbg/driftbg/internal/ipc"
	"github.com/driftbg/driftbg/internal/loader"
)

// StartCmd runs the daemon, optionally in the background.
func StartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the wallpaper daemon",
		Run: func(cmd *cobra.Command, args []string) {
			RunDaemon(cmd)
		},
	}
}

// RunDaemon is the daemon entry point shared by the root command and
// `driftbg start`.
func RunDaemon(cmd *cobra.Command) {
	if background, err := cmd.Flags().GetBool("background"); err == nil && background {
		daemonize()
		return
	}
	runCore()
}

func daemonize() {
	logDir := filepath.Join(stateDir(), "log")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Fatalf("cannot create log directory: %v", err)
	}

	writer, err := rotatelogs.New(
		filepath.Join(logDir, "driftbg.%Y%m%d.log"),
		rotatelogs.WithLinkName(filepath.Join(logDir, "driftbg.log")),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		log.Fatalf("cannot open rotated log: %v", err)
	}

	ctx := &daemon.Context{
		PidFileName: filepath.Join(stateDir(), "driftbg.pid"),
		PidFilePerm: 0o644,
		Umask:       0o27,
	}

	child, err := ctx.Reborn()
	if err != nil {
		log.Fatalf("unable to daemonize: %v", err)
	}
	if child != nil {
		log.Infof("daemon started with pid %d", child.Pid)
		return
	}
	defer ctx.Release()

	log.SetOutput(writer)
	runCore()
}

func stateDir() string {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		stateHome = filepath.Join(os.Getenv("HOME"), ".local", "state")
	}
	return filepath.Join(stateHome, "driftbg")
}

func runCore() {
	entries := loadEntries()
	if len(entries) == 0 {
		log.Warn("no wallpaper entries configured; outputs will stay unclaimed")
	}

	conn, err := wayland.Connect()
	if err != nil {
		log.Fatalf("failed to bind required Wayland protocols: %v", err)
	}

	imgCache := cache.New(viper.GetInt("cache_max_entries"), viper.GetInt("cache_max_bytes"))
	load := loader.New(afero.NewOsFs())

	c := core.New(core.Options{
		Conn:   conn,
		Cache:  imgCache,
		Loader: load,
	})
	c.ApplyConfig(entries)

	// Config file edits flow into the core as diffs.
	viper.OnConfigChange(func(_ fsnotify.Event) {
		log.Info("config file changed, reloading")
		c.ApplyConfig(loadEntries())
	})
	viper.WatchConfig()

	go ipc.Start(c)

	if err := c.Run(); err != nil {
		log.Fatalf("daemon exited abnormally: %v", err)
	}
}

func loadEntries() []config.Entry {
	cfg, errs := config.Load()
	for _, err := range errs {
		log.Errorf("config: %v", err)
	}
	return cfg.Wallpapers
}
