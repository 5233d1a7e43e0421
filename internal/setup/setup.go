// Package setup registers the biomarker MCP server with desktop MCP clients.
package setup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// DefaultServerName is the key the server is registered under.
const DefaultServerName = "biomarker-normalizer"

// BinaryName is the executable name of the MCP server.
const BinaryName = "mcp-server"

// ClientConfig is the JSON configuration file of a desktop MCP client.
// Keys other than mcpServers are preserved on save.
type ClientConfig struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`
	extra      map[string]json.RawMessage
}

// ServerEntry describes how the client launches one MCP server.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// InstallOptions contains options for registering the server.
type InstallOptions struct {
	ClientConfigPath string // Defaults to DefaultClientConfigPath
	ServerName       string // Defaults to DefaultServerName
	BinaryPath       string // Looked up when empty
	ConfigFile       string // Passed as -config
	CorrectionsDB    string // Passed as -corrections-db
	Env              map[string]string
}

// DefaultClientConfigPath returns the desktop client's config file for the
// current OS.
func DefaultClientConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "Claude")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadClientConfig reads a client config. A missing file yields an empty config.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{MCPServers: make(map[string]ServerEntry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg.extra); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw, ok := cfg.extra["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		delete(cfg.extra, "mcpServers")
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]ServerEntry)
	}
	return cfg, nil
}

// SaveClientConfig writes cfg to path, creating the directory if needed.
func SaveClientConfig(path string, cfg *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	doc := make(map[string]any, len(cfg.extra)+1)
	for k, v := range cfg.extra {
		doc[k] = v
	}
	doc["mcpServers"] = cfg.MCPServers

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Install adds or replaces the server entry in the client config and returns
// the entry written.
func Install(opts InstallOptions) (*ServerEntry, error) {
	path, err := resolvePath(opts.ClientConfigPath)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadClientConfig(path)
	if err != nil {
		return nil, err
	}

	binary := opts.BinaryPath
	if binary == "" {
		if binary, err = FindBinary(); err != nil {
			return nil, fmt.Errorf("could not find server binary: %w", err)
		}
	}
	if abs, err := filepath.Abs(binary); err == nil {
		binary = abs
	}

	entry := ServerEntry{Command: binary, Env: opts.Env}
	if opts.ConfigFile != "" {
		entry.Args = append(entry.Args, "-config", opts.ConfigFile)
	}
	if opts.CorrectionsDB != "" {
		entry.Args = append(entry.Args, "-corrections-db", opts.CorrectionsDB)
	}

	cfg.MCPServers[serverName(opts.ServerName)] = entry
	if err := SaveClientConfig(path, cfg); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Uninstall removes the server entry. It reports whether an entry existed.
func Uninstall(clientConfigPath, name string) (bool, error) {
	path, err := resolvePath(clientConfigPath)
	if err != nil {
		return false, err
	}
	cfg, err := LoadClientConfig(path)
	if err != nil {
		return false, err
	}

	name = serverName(name)
	if _, ok := cfg.MCPServers[name]; !ok {
		return false, nil
	}
	delete(cfg.MCPServers, name)
	return true, SaveClientConfig(path, cfg)
}

// Status represents the current registration.
type Status struct {
	ClientConfigPath string
	Registered       bool
	Entry            *ServerEntry
	Issues           []string
}

// GetStatus checks whether the server is registered and launchable.
func GetStatus(clientConfigPath, name string) (*Status, error) {
	path, err := resolvePath(clientConfigPath)
	if err != nil {
		return nil, err
	}
	status := &Status{ClientConfigPath: path, Issues: []string{}}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		return nil, err
	}
	entry, ok := cfg.MCPServers[serverName(name)]
	if !ok {
		status.Issues = append(status.Issues, "server is not registered")
		return status, nil
	}
	status.Registered = true
	status.Entry = &entry

	info, err := os.Stat(entry.Command)
	switch {
	case err != nil:
		status.Issues = append(status.Issues, fmt.Sprintf("server binary not found: %s", entry.Command))
	case info.Mode()&0111 == 0:
		status.Issues = append(status.Issues, fmt.Sprintf("server binary is not executable: %s", entry.Command))
	}
	for i := 0; i+1 < len(entry.Args); i += 2 {
		if entry.Args[i] != "-config" {
			continue
		}
		if _, err := os.Stat(entry.Args[i+1]); err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("config file not found: %s", entry.Args[i+1]))
		}
	}
	return status, nil
}

// FindBinary looks for the MCP server executable on PATH and in common
// build locations.
func FindBinary() (string, error) {
	if path, err := exec.LookPath(BinaryName); err == nil {
		return path, nil
	}

	locations := []string{
		"./" + BinaryName,
		"./bin/" + BinaryName,
		"./build/" + BinaryName,
		"/usr/local/bin/" + BinaryName,
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".local", "bin", BinaryName))
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}
	return "", fmt.Errorf("binary '%s' not found in common locations", BinaryName)
}

func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return DefaultClientConfigPath()
}

func serverName(name string) string {
	if name == "" {
		return DefaultServerName
	}
	return name
}
