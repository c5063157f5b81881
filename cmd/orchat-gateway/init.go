// ABOUTME: Interactive init subcommand that writes a starter gateway config
// ABOUTME: Generates a random JWT secret and prompts for addresses, paths and provider settings

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/orchat-gateway/internal/config"
)

// initAnswers holds everything runInit asks for.
type initAnswers struct {
	HTTPAddr    string
	DBPath      string
	JWTSecret   string
	APIKey      string
	RankURL     string
	RankName    string
	CatalogFile string
	LogLevel    string
	LogFormat   string
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("orchat-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := randomSecret()
	if err != nil {
		return err
	}

	var a initAnswers
	a.JWTSecret = secret

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	a.DBPath = prompt(reader, "SQLite database path", filepath.Join(config.DefaultDataPath(), "gateway.db"))

	fmt.Println("\n--- OpenRouter Configuration ---")
	a.APIKey = prompt(reader, "API key", "${OPENROUTER_API_KEY}")
	a.RankURL = prompt(reader, "Site URL for openrouter.ai rankings (optional)", "")
	a.RankName = prompt(reader, "Site name for openrouter.ai rankings (optional)", "")

	fmt.Println("\n--- Models ---")
	a.CatalogFile = prompt(reader, "Model catalog TOML file (empty for built-in list)", "")

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file holds the JWT secret.
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  orchat-gateway grant-admin --user <you>")
	fmt.Println("  orchat-gateway token --user <you>")
	fmt.Println("  orchat-gateway serve")

	return nil
}

// renderConfig produces the YAML config file for a.
func renderConfig(a initAnswers) string {
	var b strings.Builder
	b.WriteString("# orchat-gateway configuration\n")
	b.WriteString("# Generated by orchat-gateway init\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n\n", a.HTTPAddr)

	b.WriteString("database:\n")
	fmt.Fprintf(&b, "  path: %q\n\n", a.DBPath)

	b.WriteString("auth:\n")
	fmt.Fprintf(&b, "  jwt_secret: %q\n\n", a.JWTSecret)

	b.WriteString("openrouter:\n")
	fmt.Fprintf(&b, "  api_key: %q\n", a.APIKey)
	fmt.Fprintf(&b, "  base_url: %q\n", config.DefaultOpenRouterURL)
	if a.RankURL != "" {
		fmt.Fprintf(&b, "  rank_url: %q\n", a.RankURL)
	}
	if a.RankName != "" {
		fmt.Fprintf(&b, "  rank_name: %q\n", a.RankName)
	}
	b.WriteString("  timeout: \"60s\"\n\n")

	if a.CatalogFile != "" {
		b.WriteString("models:\n")
		fmt.Fprintf(&b, "  catalog_file: %q\n\n", a.CatalogFile)
	}

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n", a.LogFormat)

	return b.String()
}

func randomSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
