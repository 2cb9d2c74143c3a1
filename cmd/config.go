package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/ihavespoons/ctxai/internal/config"
	"github.com/ihavespoons/ctxai/internal/embedding"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify configuration",
	Long: `View or modify the ctxai configuration in <home>/config.yaml.

Keys use dotted names such as embedding.provider or indexing.max_files.
API keys are best stored in the OS keychain with 'ctxai config set-key'.`,
}

func loadHome() *config.Home {
	home, err := openHome("")
	if err != nil {
		exitErrorJSON(err)
	}
	return home
}

// configListCmd represents the config list command
var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show all configuration values",
	Run: func(cmd *cobra.Command, args []string) {
		home := loadHome()

		values := make(map[string]string)
		for _, key := range config.Keys() {
			v, _ := home.Config.Get(key)
			if key == "embedding.api_key" && v != "" {
				v = maskKey(v)
			}
			values[key] = v
		}
		_, source := config.LookupAPIKey(&home.Config.Embedding)

		if jsonOutput {
			if err := outputJSON(map[string]interface{}{
				"home":           home.Path,
				"values":         values,
				"api_key_source": source,
				"current":        home.Config.Current,
			}); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
			return
		}

		fmt.Printf("Home: %s\n\n", home.Path)
		for _, key := range config.Keys() {
			fmt.Printf("%-30s %s\n", key, values[key])
		}
		if embedding.NeedsAPIKey(home.Config.Embedding.Provider) {
			if source == config.KeySourceNone {
				source = "not set"
			}
			fmt.Printf("\nAPI key: %s\n", source)
		}
		if cur := home.Config.Current; cur != nil {
			fmt.Printf("\nLast index: %s (%s, %d files, %d chunks)\n", cur.Name, cur.Status, cur.FilesCount, cur.ChunksCount)
		}
	},
}

// configGetCmd represents the config get command
var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		home := loadHome()
		v, err := home.Config.Get(args[0])
		if err != nil {
			exitErrorJSON(err)
		}
		if jsonOutput {
			if err := outputJSON(map[string]string{"key": args[0], "value": v}); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
			return
		}
		fmt.Println(v)
	},
}

// configSetCmd represents the config set command
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		home := loadHome()
		if err := home.Config.Set(args[0], args[1]); err != nil {
			exitErrorJSON(err)
		}
		// Validate a copy so provider defaults are not written to the file
		check := home.Config.Embedding
		if err := embedding.ValidateConfig(&check); err != nil {
			if errors.Is(err, embedding.ErrUnknownProvider) {
				exitErrorJSON(err)
			}
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		if err := home.Save(); err != nil {
			exitError("failed to save config: %v", err)
		}
		printSaved(args[0], home)
	},
}

// configUnsetCmd represents the config unset command
var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Restore a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		home := loadHome()
		if err := home.Config.Unset(args[0]); err != nil {
			exitErrorJSON(err)
		}
		if err := home.Save(); err != nil {
			exitError("failed to save config: %v", err)
		}
		printSaved(args[0], home)
	},
}

// configPathCmd represents the config path command
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the configuration file path",
	Run: func(cmd *cobra.Command, args []string) {
		home := loadHome()
		if jsonOutput {
			if err := outputJSON(map[string]string{
				"home":    home.Path,
				"config":  home.ConfigPath(),
				"indexes": home.IndexesPath(),
				"cache":   home.CachePath(),
			}); err != nil {
				exitError("failed to encode JSON: %v", err)
			}
			return
		}
		fmt.Println(home.ConfigPath())
	},
}

// configSetKeyCmd represents the config set-key command
var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [provider]",
	Short: "Store an API key in the OS keychain",
	Long: `Store the API key of an embedding provider in the OS keychain.

The key is read from the terminal without echo, or from stdin when piped.
The provider defaults to the configured embedding.provider.

Examples:
  ctxai config set-key openai
  echo "$GEMINI_API_KEY" | ctxai config set-key gemini
  ctxai config set-key openai --delete`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		del, _ := cmd.Flags().GetBool("delete")

		var provider string
		if len(args) == 1 {
			provider = args[0]
		} else {
			provider = loadHome().Config.Embedding.Provider
		}
		if !embedding.NeedsAPIKey(provider) {
			exitError("provider %q does not use an API key", provider)
		}

		if del {
			if err := config.DeleteAPIKey(provider); err != nil {
				exitErrorJSON(err)
			}
			if !jsonOutput {
				fmt.Printf("Removed %s API key from the keychain\n", provider)
			} else {
				_ = outputJSON(map[string]interface{}{"success": true, "provider": provider, "deleted": true})
			}
			return
		}

		if term.IsTerminal(int(syscall.Stdin)) {
			fmt.Printf("Enter %s API key: ", provider)
		}
		key, err := readSecret()
		if err != nil {
			exitError("failed to read key: %v", err)
		}
		if key == "" {
			exitError("no key given")
		}
		if err := config.SetAPIKey(provider, key); err != nil {
			exitErrorJSON(err)
		}

		if jsonOutput {
			_ = outputJSON(map[string]interface{}{"success": true, "provider": provider})
			return
		}
		fmt.Printf("Stored %s API key in the keychain\n", provider)
	},
}

// readSecret reads a line from stdin without echo when it is a terminal
func readSecret() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		bytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func printSaved(key string, home *config.Home) {
	v, _ := home.Config.Get(key)
	if key == "embedding.api_key" && v != "" {
		v = maskKey(v)
	}
	if jsonOutput {
		_ = outputJSON(map[string]interface{}{"success": true, "key": key, "value": v})
		return
	}
	fmt.Printf("%s = %s\n", key, v)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configSetKeyCmd)

	configSetKeyCmd.Flags().Bool("delete", false, "Remove the stored key instead")
}
