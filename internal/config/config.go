package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath string
	RPCURL     string
	AppsDir    string
	Timeout    string
	Retries    int
	JSON       bool
}

type Settings struct {
	RPCURL          string
	ChainID         int64
	AppsDir         string
	Timeout         time.Duration
	Retries         int
	OutputJSON      bool
	StorePath       string
	StoreLockPath   string
	KeystorePath    string
	ScannerURL      string
	WrappedNative   string
	BridgeSymbols   []string
	DefaultSlippage int64
}

type fileConfig struct {
	RPCURL  string `yaml:"rpc_url"`
	ChainID *int64 `yaml:"chain_id"`
	AppsDir string `yaml:"apps_dir"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Store   struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"store"`
	Wallet struct {
		KeystorePath string `yaml:"keystore_path"`
	} `yaml:"wallet"`
	Chain struct {
		ScannerURL    string   `yaml:"scanner_url"`
		WrappedNative string   `yaml:"wrapped_native"`
		BridgeSymbols []string `yaml:"bridge_symbols"`
	} `yaml:"chain"`
	Swap struct {
		DefaultSlippageBps *int64 `yaml:"default_slippage_bps"`
	} `yaml:"swap"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 15 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.DefaultSlippage <= 0 {
		settings.DefaultSlippage = 100
	}
	if len(settings.BridgeSymbols) != 2 {
		return Settings{}, fmt.Errorf("chain.bridge_symbols must name exactly two bridge assets, got %d", len(settings.BridgeSymbols))
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	storePath, lockPath, err := defaultStorePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		RPCURL:          "https://bsc-dataseed.binance.org",
		ChainID:         56,
		AppsDir:         "apps",
		Timeout:         15 * time.Second,
		Retries:         2,
		StorePath:       storePath,
		StoreLockPath:   lockPath,
		ScannerURL:      "https://bscscan.com",
		BridgeSymbols:   []string{"CZUSD", "CZB"},
		DefaultSlippage: 100,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "broker", "config.yaml"), nil
}

func defaultStorePaths() (string, string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	dir := filepath.Join(base, "broker")
	return filepath.Join(dir, "broker.db"), filepath.Join(dir, "broker.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.ChainID != nil {
		settings.ChainID = *cfg.ChainID
	}
	if cfg.AppsDir != "" {
		settings.AppsDir = cfg.AppsDir
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Store.Path != "" {
		settings.StorePath = cfg.Store.Path
	}
	if cfg.Store.LockPath != "" {
		settings.StoreLockPath = cfg.Store.LockPath
	}
	if cfg.Wallet.KeystorePath != "" {
		settings.KeystorePath = cfg.Wallet.KeystorePath
	}
	if cfg.Chain.ScannerURL != "" {
		settings.ScannerURL = cfg.Chain.ScannerURL
	}
	if cfg.Chain.WrappedNative != "" {
		settings.WrappedNative = cfg.Chain.WrappedNative
	}
	if len(cfg.Chain.BridgeSymbols) > 0 {
		settings.BridgeSymbols = cfg.Chain.BridgeSymbols
	}
	if cfg.Swap.DefaultSlippageBps != nil {
		settings.DefaultSlippage = *cfg.Swap.DefaultSlippageBps
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("BROKER_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("BROKER_CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.ChainID = n
		}
	}
	if v := os.Getenv("BROKER_APPS_DIR"); v != "" {
		settings.AppsDir = v
	}
	if v := os.Getenv("BROKER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("BROKER_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("BROKER_STORE_PATH"); v != "" {
		settings.StorePath = v
	}
	if v := os.Getenv("BROKER_STORE_LOCK_PATH"); v != "" {
		settings.StoreLockPath = v
	}
	if v := os.Getenv("BROKER_KEYSTORE_PATH"); v != "" {
		settings.KeystorePath = v
	}
	if v := os.Getenv("BROKER_SCANNER_URL"); v != "" {
		settings.ScannerURL = v
	}
	// WETH matches the variable the router integrations already rely on.
	if v := os.Getenv("WETH"); v != "" {
		settings.WrappedNative = v
	}
	if v := os.Getenv("BROKER_BRIDGE_SYMBOLS"); v != "" {
		parts := strings.Split(v, ",")
		symbols := make([]string, 0, len(parts))
		for _, part := range parts {
			s := strings.TrimSpace(part)
			if s != "" {
				symbols = append(symbols, s)
			}
		}
		if len(symbols) > 0 {
			settings.BridgeSymbols = symbols
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.RPCURL != "" {
		settings.RPCURL = flags.RPCURL
	}
	if flags.AppsDir != "" {
		settings.AppsDir = flags.AppsDir
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	settings.OutputJSON = flags.JSON
	return nil
}
