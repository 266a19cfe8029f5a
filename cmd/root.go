package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docsage",
	Short: "docsage - Retrieval-augmented question answering over your documents",
	Long: `docsage ingests documents from URLs and PDFs into a hybrid
dense+sparse vector index and answers questions against them with
retrieval, reranking, and a primary/fallback LLM router.

Processes:
  docsage serve    HTTP API (/rag/* endpoints, /health, /metrics)
  docsage worker   Background ingest job worker pool
  docsage ingest   One-shot URL ingest from the command line

Environment Variables:
  P_API_KEY / P_MODEL / P_URL    Primary LLM provider
  F_API_KEY / F_MODEL / F_URL    Fallback LLM provider
  QDRANT_HOST / QDRANT_PORT      Vector store
  REDIS_URL                      Job state and queue
  EMBEDDING_URL / RERANK_URL     Model sidecars`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./docsage.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")

	// Bind to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("docsage")
	}

	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
