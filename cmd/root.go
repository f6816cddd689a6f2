package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "satseg",
	Short: "Satellite semantic segmentation training engine",
	Long: `Trains and validates segmentation models over satellite imagery:
reproducible stratified dataset splits, epoch train/validate loops,
plateau-driven learning rate control, and resumable checkpointing,
with MLflow-compatible metric and image tracking.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("tracking-uri", "", "MLflow tracking URI (overrides SATSEG_TRACKING_URI)")
	rootCmd.PersistentFlags().String("experiment-id", "", "Experiment ID (overrides SATSEG_EXPERIMENT_ID)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	viper.BindPFlag("tracking_uri", rootCmd.PersistentFlags().Lookup("tracking-uri"))
	viper.BindPFlag("experiment_id", rootCmd.PersistentFlags().Lookup("experiment-id"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	// Environment variables
	viper.SetEnvPrefix("SATSEG")
	viper.AutomaticEnv()

	// Also accept the standard MLflow auth variable
	viper.BindEnv("databricks_token", "DATABRICKS_TOKEN")

	// Set defaults
	viper.SetDefault("tracking_uri", "http://localhost:5000")
	viper.SetDefault("arch", "linknet34")
	viper.SetDefault("optimizer", "adam")
	viper.SetDefault("lr", 0.1)
	viper.SetDefault("batch_size", 256)
	viper.SetDefault("epochs", 20)
	viper.SetDefault("start_epoch", 0)
	viper.SetDefault("workers", 4)
	viper.SetDefault("lognumber", "test_model")
	viper.SetDefault("preset", "mul_urban")
	viper.SetDefault("imsize", 320)
	viper.SetDefault("seed", 42)
	viper.SetDefault("val_fraction", 0.2)
	viper.SetDefault("print_freq", 10)
	viper.SetDefault("weights_dir", "weights")
	viper.SetDefault("sched_factor", 0.1)
	viper.SetDefault("sched_patience", 4)
	viper.SetDefault("sched_threshold", 1e-3)
	viper.SetDefault("sched_cooldown", 0)
	viper.SetDefault("min_lr", 1e-7)

	setupLogging()
}

func setupLogging() {
	level := zerolog.InfoLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}
