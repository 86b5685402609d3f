package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

func LoadEnvFiles() error {
	envPaths := []string{
		"./.env",
	}

	if home, err := os.UserHomeDir(); err == nil {
		envPaths = append(envPaths,
			filepath.Join(home, ".idvault", ".env"),
			filepath.Join(home, ".config", "idvault", ".env"),
		)
	}

	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			if err := loadEnvFile(path); err != nil {
				return err
			}
		}
	}

	return nil
}

func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
			value = strings.Trim(value, `"`)
		} else if strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'") {
			value = strings.Trim(value, `'`)
		}

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	return scanner.Err()
}

// envAliases lets deployments keep the variable names they already export.
var envAliases = map[string][]string{
	"IDVAULT_CRYPTO_ENCRYPTION_KEY":            {"ENCRYPTION_KEY"},
	"IDVAULT_STORAGE_URL":                      {"DATABASE_URL"},
	"IDVAULT_EXTRACTION_BACKEND":               {"DOCUMENT_READER_SERVICE"},
	"IDVAULT_DOCUMENT_AI_PROJECT_ID":           {"GCP_PROJECT_ID"},
	"IDVAULT_DOCUMENT_AI_LOCATION":             {"GCP_LOCATION"},
	"IDVAULT_DOCUMENT_AI_PROCESSOR_ID":         {"DOCUMENT_AI_PROCESSOR_ID"},
	"IDVAULT_LLM_PROVIDERS_OPENROUTER_API_KEY": {"OPENROUTER_API_KEY"},
	"IDVAULT_LLM_PROVIDERS_OPENROUTER_MODEL":   {"LLM_MODEL"},
	"IDVAULT_LLM_PROVIDERS_OPENAI_API_KEY":     {"OPENAI_API_KEY"},
	"IDVAULT_SECURITY_JWT_SECRET":              {"JWT_SECRET"},
	"IDVAULT_SECURITY_API_KEYS":                {"API_KEYS"},
}

func ResolveEnvWithAliases(canonicalKey string) string {
	if val := os.Getenv(canonicalKey); val != "" {
		return val
	}

	if aliases, ok := envAliases[canonicalKey]; ok {
		for _, alias := range aliases {
			if val := os.Getenv(alias); val != "" {
				return val
			}
		}
	}

	return ""
}
