package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ihavespoons/ctxai/internal/config"
	"github.com/ihavespoons/ctxai/internal/index"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is the ctxai release version
const Version = "1.0.0"

var (
	// Global flags
	jsonOutput bool
	verbose    bool
	logJSON    bool
	homeFlag   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ctxai",
	Short: "Index codebases for semantic search by LLM agents",
	Long: `ctxai indexes source trees into language-aware chunks with embeddings
and serves them to LLM agents.

It provides:
- Structural chunking with tree-sitter for common languages
- Local (Ollama, hash) and hosted (OpenAI, Azure, Hugging Face, Gemini) embeddings
- Vector, keyword and hybrid search
- An MCP server over stdio and a JSON dashboard API

Use 'ctxai index <path>' to build an index, then 'ctxai query <name> <text>'
to search it.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()

		// A missing .env is normal
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			logrus.WithError(err).Warn("failed to load .env")
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON")
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "ctxai home directory (default: $CTXAI_HOME or ./.ctxai)")
}

// setupLogging configures the standard logger. Logs always go to stderr so
// stdout stays clean for results and the MCP protocol.
func setupLogging() {
	logrus.SetOutput(os.Stderr)
	if logJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: !verbose})
	}
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}
}

// openHome resolves and loads the home directory. projectPath selects the
// project whose .ctxai is used when neither --home nor $CTXAI_HOME is set.
func openHome(projectPath string) (*config.Home, error) {
	path := homeFlag
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home: %w", err)
		}
		path = abs
	} else {
		resolved, err := config.ResolveHome(projectPath)
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	logrus.WithField("home", path).Debug("using home directory")
	return config.Open(path)
}

// peekConfig returns the configuration of the home without creating it.
// Defaults are returned when no home exists yet.
func peekConfig(projectPath string) *config.Config {
	path := homeFlag
	if path == "" {
		resolved, err := config.ResolveHome(projectPath)
		if err != nil {
			return config.Default()
		}
		path = resolved
	}
	home := &config.Home{Path: path}
	if err := home.Load(); err != nil {
		logrus.WithError(err).Debug("using default configuration")
		return config.Default()
	}
	return home.Config
}

// openManager opens the home for the working directory and returns an index
// manager for it
func openManager() *index.Manager {
	home, err := openHome("")
	if err != nil {
		exitErrorJSON(err)
	}
	return index.NewManager(home)
}

// outputJSON outputs data as JSON
func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// exitError prints an error message and exits
func exitError(format string, args ...interface{}) {
	exitErrorJSON(fmt.Errorf(format, args...))
}

// exitErrorJSON outputs an error in JSON format if --json flag is set
func exitErrorJSON(err error) {
	if jsonOutput {
		_ = outputJSON(map[string]string{"error": err.Error()})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}
