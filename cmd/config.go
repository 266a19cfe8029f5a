package cmd

import (
	"fmt"
	"os"

	"github.com/docsage/docsage/pkg/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage docsage configuration",
	Long:  `Commands for creating and validating docsage.yaml configuration files.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a docsage.yaml template",
	Long: `Creates a docsage.yaml configuration file with all available options
and their default values.

Example:
  docsage config init
  docsage config init --output /etc/docsage/docsage.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a docsage.yaml configuration file",
	Long: `Reads and validates a configuration file, reporting any errors.

Example:
  docsage config validate
  docsage config validate docsage.yaml
  docsage config validate --config /etc/docsage/docsage.yaml`,
	RunE: runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Prints the configuration that would be used after merging the
config file, environment variables, and defaults. Secrets are redacted.

Example:
  docsage config show`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().StringP("output", "o", "docsage.yaml", "output file path")
	configInitCmd.Flags().Bool("stdout", false, "print to stdout instead of file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	toStdout, _ := cmd.Flags().GetBool("stdout")
	output, _ := cmd.Flags().GetString("output")

	template := config.GenerateTemplate()

	if toStdout {
		fmt.Print(template)
		return nil
	}

	// Check if file already exists
	if _, err := os.Stat(output); err == nil {
		return fmt.Errorf("file %s already exists (use --stdout to print to stdout)", output)
	}

	if err := os.WriteFile(output, []byte(template), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Created %s\n", output)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	var cfgPath string

	if len(args) > 0 {
		cfgPath = args[0]
	} else if cfgFile != "" {
		cfgPath = cfgFile
	} else {
		// Search default locations
		candidates := []string{
			"docsage.yaml",
			".docsage.yaml",
		}
		home, err := os.UserHomeDir()
		if err == nil {
			candidates = append(candidates,
				home+"/.docsage.yaml",
				home+"/docsage.yaml",
			)
		}

		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				cfgPath = c
				break
			}
		}

		if cfgPath == "" {
			return fmt.Errorf("no config file found (try: docsage config validate <file>)")
		}
	}

	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed for %s:\n%v\n", cfgPath, err)
		os.Exit(1)
	}

	_ = cfg
	fmt.Fprintf(os.Stderr, "Config file %s is valid\n", cfgPath)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("server:\n")
	fmt.Printf("  host: %s\n", cfg.Server.Host)
	fmt.Printf("  port: %d\n", cfg.Server.Port)
	fmt.Printf("  read_timeout: %s\n", cfg.Server.ReadTimeout)
	fmt.Printf("  write_timeout: %s\n", cfg.Server.WriteTimeout)
	fmt.Printf("logging:\n")
	fmt.Printf("  level: %s\n", cfg.Logging.Level)
	fmt.Printf("  format: %s\n", cfg.Logging.Format)
	fmt.Printf("embedding:\n")
	fmt.Printf("  url: %s\n", cfg.Embedding.URL)
	fmt.Printf("  cache_size: %d\n", cfg.Embedding.CacheSize)
	fmt.Printf("  cache_ttl: %s\n", cfg.Embedding.CacheTTL)
	fmt.Printf("rerank:\n")
	fmt.Printf("  url: %s\n", cfg.Rerank.URL)
	fmt.Printf("  top_k: %d\n", cfg.Rerank.TopK)
	fmt.Printf("retriever:\n")
	fmt.Printf("  host: %s\n", cfg.Retriever.Host)
	fmt.Printf("  grpc_port: %d\n", cfg.Retriever.GRPCPort)
	fmt.Printf("  collection: %s\n", cfg.Retriever.Collection)
	fmt.Printf("  api_key: %s\n", redacted(cfg.Retriever.APIKey))
	fmt.Printf("  top_k: %d\n", cfg.Retriever.TopK)
	fmt.Printf("redis:\n")
	fmt.Printf("  host: %s\n", cfg.Redis.Host)
	fmt.Printf("  port: %d\n", cfg.Redis.Port)
	fmt.Printf("  db: %d\n", cfg.Redis.DB)
	fmt.Printf("llm:\n")
	fmt.Printf("  primary: %s %s (api_key: %s)\n", cfg.LLM.Primary.Provider, cfg.LLM.Primary.Model, redacted(cfg.LLM.Primary.APIKey))
	fmt.Printf("  fallback: %s %s (api_key: %s)\n", cfg.LLM.Fallback.Provider, cfg.LLM.Fallback.Model, redacted(cfg.LLM.Fallback.APIKey))
	fmt.Printf("  failure_threshold: %d\n", cfg.LLM.FailureThreshold)
	fmt.Printf("  open_timeout: %s\n", cfg.LLM.OpenTimeout)
	fmt.Printf("jobs:\n")
	fmt.Printf("  parallelism: %d\n", cfg.Jobs.Parallelism)
	fmt.Printf("  shared_upload_dir: %s\n", cfg.Jobs.SharedUploadDir)
	fmt.Printf("costs:\n")
	fmt.Printf("  session_ttl: %s\n", cfg.Costs.SessionTTL)
	fmt.Printf("telemetry:\n")
	fmt.Printf("  tracing: enabled=%v exporter=%s endpoint=%s\n",
		cfg.Telemetry.Tracing.Enabled, cfg.Telemetry.Tracing.Exporter, cfg.Telemetry.Tracing.Endpoint)
	return nil
}

func redacted(s string) string {
	if s == "" {
		return "(unset)"
	}
	return "***"
}
