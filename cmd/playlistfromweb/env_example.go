package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const sectionRule = "# -----------------------------------------------------------------------------\n"

type envSetting struct {
	flag    string
	example string
	comment string
}

type envSection struct {
	title    string
	settings []envSetting
}

var envSections = []envSection{
	{
		title: "Spotify Configuration (Required for import, replay, crawl, remap, sync)",
		settings: []envSetting{
			{flag: "spotify-client-id", example: "your_spotify_client_id", comment: "From https://developer.spotify.com/dashboard"},
			{flag: "spotify-client-secret", example: "your_spotify_client_secret", comment: "Spotify app client secret"},
			{flag: "spotify-refresh-token", example: "", comment: "Printed by the auth command"},
			{flag: "spotify-user-id", comment: "Playlist owner, empty means the authenticated user"},
			{flag: "spotify-redirect-url", example: "http://127.0.0.1:8080/callback", comment: "Must match the app's redirect URI"},
			{flag: "spotify-search-limit", comment: "Candidates per catalog search"},
			{flag: "spotify-max-attempts", comment: "Attempts per rate limited or failing request"},
			{flag: "spotify-requests-per-second", comment: "Request pacing, 0=disabled"},
			{flag: "spotify-request-timeout-secs", comment: "Timeout per request attempt, timed out attempts are retried"},
		},
	},
	{
		title: "LLM Configuration (Required for dev, import, crawl)",
		settings: []envSetting{
			{flag: "llm-provider", comment: "openai, anthropic, ollama or none"},
			{flag: "llm-model", example: "gpt-4o-mini", comment: "Empty uses the provider default"},
			{flag: "llm-api-key", example: "your_llm_api_key", comment: "Not needed for ollama"},
			{flag: "llm-base-url", comment: "Override the API endpoint, e.g. http://localhost:11434 for ollama"},
			{flag: "llm-max-content-chars", comment: "Page text budget per extraction"},
			{flag: "llm-timeout-secs", comment: "Timeout per LLM request"},
		},
	},
	{
		title: "Application Settings",
		settings: []envSetting{
			{flag: "data-dir", comment: "Artifact root (raw, parsed, spotify, crawls)"},
			{flag: "history-path", comment: "Run history database, empty=<data-dir>/history.db, none=disabled"},
			{flag: "master-playlist", comment: "Also sync the aggregate playlist"},
			{flag: "resolve-workers", comment: "Concurrent track resolutions per block"},
			{flag: "crawl-workers", comment: "Concurrent links while crawling"},
			{flag: "fetch-timeout-secs", comment: "Page download timeout"},
		},
	},
	{
		title: "HTTP Server (serve command)",
		settings: []envSetting{
			{flag: "server-host", comment: "Listen address"},
			{flag: "server-port", comment: "Listen port"},
			{flag: "server-api-requests-per-minute", comment: "Mutating API calls per client and route, 0=unlimited"},
		},
	},
	{
		title: "Logging",
		settings: []envSetting{
			{flag: "log-level", comment: "debug, info, warn, error"},
			{flag: "log-format", comment: "json or console"},
		},
	},
}

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("✅ Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# playlist-from-web Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	fmt.Fprintf(&content, "# Format: %s_<SECTION>_<SETTING>=value\n", envPrefix)
	content.WriteString("# CLI equivalent: --<section>-<setting>\n")
	content.WriteString("#\n")
	content.WriteString("# =============================================================================\n\n")

	for _, section := range envSections {
		generateSection(&content, cmd, section)
	}
	generateQuickSetupGuide(&content)

	return content.String()
}

func generateSection(content *strings.Builder, cmd *cobra.Command, section envSection) {
	content.WriteString(sectionRule)
	fmt.Fprintf(content, "# %s\n", section.title)
	content.WriteString(sectionRule)

	flags := make([]string, 0, len(section.settings))
	for _, setting := range section.settings {
		flags = append(flags, "--"+setting.flag)
	}
	fmt.Fprintf(content, "# CLI: %s\n", strings.Join(flags, ", "))

	for _, setting := range section.settings {
		defValue := getDefaultValueString(cmd, setting.flag)
		value := setting.example
		if value == "" {
			value = defValue
		}
		fmt.Fprintf(content, "%s=%s  # %s (default: %s)\n",
			flagToEnvVar(setting.flag), value, setting.comment, displayDefault(defValue))
	}
	content.WriteString("\n")
}

func generateQuickSetupGuide(content *strings.Builder) {
	content.WriteString("# =============================================================================\n")
	content.WriteString("# QUICK SETUP GUIDE\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# 1. Create a Spotify app and add the redirect URL above to it\n")
	content.WriteString("# 2. Set the client ID and secret, then run: playlistfromweb auth\n")
	fmt.Fprintf(content, "# 3. Copy the printed %s into this file\n", flagToEnvVar("spotify-refresh-token"))
	content.WriteString("# 4. Set an LLM provider and API key\n")
	content.WriteString("# 5. Try it: playlistfromweb dev <url>, then playlistfromweb import <url>\n")
	content.WriteString("#\n")
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func getDefaultValueString(cmd *cobra.Command, flagName string) string {
	if f := cmd.PersistentFlags().Lookup(flagName); f != nil {
		return f.DefValue
	}
	return ""
}

func displayDefault(value string) string {
	if value == "" {
		return "empty"
	}
	return value
}
