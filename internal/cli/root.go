package cli

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidwall/pretty"

	"github.com/driftbg/driftbg"
	clicmd "github.com/driftbg/driftbg/internal/cli/cmd"
	"github.com/driftbg/driftbg/internal/config"
)

// rootCmd runs the daemon when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "driftbg",
	Short: "A multi-source wallpaper daemon for Wayland compositors",
	Long: `driftbg renders wallpapers onto every output a Wayland compositor
advertises: static images, slideshows, animations, videos, GPU shaders,
and solid colors or gradients, configured per output.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, err := cmd.Flags().GetBool("show-config"); err == nil && v {
			log.Infof("Using config file: %v", viper.ConfigFileUsed())
			log.Infof("All settings:")
			printJSONColored(viper.AllSettings())
			return
		}

		babyBlue := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
		green := lipgloss.NewStyle().Foreground(lipgloss.Color("76"))
		if v, err := cmd.Flags().GetBool("version"); err == nil && v {
			log.Infof("%v version %v",
				babyBlue.Render("driftbg"),
				green.Render(strings.Trim(driftbg.Version, "\n\r ")))
			return
		}

		clicmd.RunDaemon(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var cfgFile string

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/driftbg/driftbg.toml)")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	rootCmd.PersistentFlags().BoolP("background", "b", false, "Run as a daemon")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().Bool("show-config", false, "Dump resolved config")
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Print version")
	rootCmd.PersistentFlags().BoolP("help", "h", false, "Print usage")
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(clicmd.StartCmd())
	rootCmd.AddCommand(clicmd.StopCmd())
	rootCmd.AddCommand(clicmd.NextCmd())
	rootCmd.AddCommand(clicmd.StatusCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("driftbg")
		viper.SetConfigType("toml")
		if viper.GetString("config") != "" {
			viper.SetConfigFile(viper.GetString("config"))
		} else {
			viper.AddConfigPath("$XDG_CONFIG_HOME/driftbg")
			viper.AddConfigPath("$HOME/.config/driftbg")
			viper.AddConfigPath("/etc/xdg/driftbg")
		}
	}

	config.SetDefaults()

	viper.SetEnvPrefix("driftbg")
	viper.AutomaticEnv() // read environment variables that match

	if err := viper.ReadInConfig(); err != nil {
		log.Warnf("no config file found: %v", err)
	}

	if viper.GetBool("debug") || strings.EqualFold(os.Getenv("DRIFTBG_LOG"), "debug") {
		log.SetLevel(log.DebugLevel)
	}
}

func printJSONColored(data interface{}) {
	j, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		log.Errorf("Error marshalling JSON: %v", err)
		return
	}

	jPretty := pretty.Color(j, nil)
	log.Info(string(jPretty))
}
