package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"vigil/version"
)

type Config struct {
	StartPaths       []string `json:"start_paths"`
	IncludePatterns  []string `json:"include_patterns"`
	ExcludePatterns  []string `json:"exclude_patterns"`
	IncludeHidden    bool     `json:"include_hidden"`
	Recursive        bool     `json:"recursive"`
	ConcurrencyLevel int      `json:"concurrency_level"`
	NiceLevel        string   `json:"nice_level"`
	MaxFileSize      int64    `json:"max_file_size"`
	MaxIOPerSecond   int      `json:"max_io_per_second"`
	LogLevel         string   `json:"log_level"`
	ReportFileName   string   `json:"report_file_name"`
	SkipCount        bool     `json:"skip_count"`

	SignatureEnabled bool   `json:"signature_enabled"`
	SignatureDBPath  string `json:"signature_db_path"`

	HeuristicEnabled bool     `json:"heuristic_enabled"`
	Sensitivity      string   `json:"sensitivity"`
	ExtraHashes      []string `json:"extra_hashes"`
	FuzzyHash        bool     `json:"fuzzy_hash"`

	CloudLookupEnabled bool          `json:"cloud_lookup_enabled"`
	CacheDir           string        `json:"cache_dir"`
	CacheTTL           time.Duration `json:"cache_ttl"`
	VTEnabled          bool          `json:"virustotal_enabled"`
	VTBaseURL          string        `json:"virustotal_base_url"`
	VTRatePerMinute    int           `json:"virustotal_rate_per_minute"`
	MBEnabled          bool          `json:"malwarebazaar_enabled"`
	MBBaseURL          string        `json:"malwarebazaar_base_url"`
	MBRatePerMinute    int           `json:"malwarebazaar_rate_per_minute"`

	BehaviorEnabled  bool          `json:"behavior_enabled"`
	SandboxURL       string        `json:"sandbox_url"`
	SandboxTimeout   time.Duration `json:"sandbox_timeout"`
	SandboxPollEvery time.Duration `json:"sandbox_poll_interval"`

	QuarantineDir     string `json:"quarantine_dir"`
	QuarantineEncrypt bool   `json:"quarantine_encrypt"`
	RetentionDays     int    `json:"quarantine_retention_days"`
	AutoQuarantine    bool   `json:"auto_quarantine"`

	ConfigFile     string `json:"config_file"`
	ConcurrencySet bool   `json:"-"`

	// Maintenance verbs. When one is set the process runs that action and
	// exits instead of scanning.
	ListQuarantine    bool   `json:"-"`
	RestoreID         string `json:"-"`
	RestorePath       string `json:"-"`
	DeleteID          string `json:"-"`
	CleanupQuarantine bool   `json:"-"`
	ImportSignatures  string `json:"-"`
	ListSignatures    bool   `json:"-"`
}

// MaintenanceRequested reports whether any maintenance verb was given.
func (cfg *Config) MaintenanceRequested() bool {
	return cfg.ListQuarantine || cfg.RestoreID != "" || cfg.DeleteID != "" ||
		cfg.CleanupQuarantine || cfg.ImportSignatures != "" || cfg.ListSignatures
}

// API credentials come from the environment so they never land in a config
// file on disk.
func (cfg *Config) VTAPIKey() string      { return os.Getenv("VIGIL_VT_API_KEY") }
func (cfg *Config) MBAPIKey() string      { return os.Getenv("VIGIL_MB_API_KEY") }
func (cfg *Config) SandboxAPIKey() string { return os.Getenv("VIGIL_SANDBOX_API_KEY") }

// Defaults returns a Config populated with default values. LoadConfig layers
// config file and command-line flags on top of it.
func Defaults() *Config {
	now := time.Now().UTC()
	timestamp := now.Format("20060102-150405")
	return &Config{
		StartPaths:       []string{"."},
		Recursive:        true,
		ConcurrencyLevel: runtime.NumCPU(),
		NiceLevel:        "medium",
		MaxFileSize:      500 * 1024 * 1024,
		MaxIOPerSecond:   1000,
		LogLevel:         "info",
		ReportFileName:   fmt.Sprintf("vigil-%s.json", timestamp),
		SkipCount:        true,

		SignatureEnabled: true,
		SignatureDBPath:  "vigil-signatures.db",

		HeuristicEnabled: true,
		Sensitivity:      "medium",
		ExtraHashes:      []string{},

		CloudLookupEnabled: true,
		CacheDir:           ".vigil-cache",
		CacheTTL:           24 * time.Hour,
		VTEnabled:          true,
		VTBaseURL:          "https://www.virustotal.com/api/v3",
		VTRatePerMinute:    4,
		MBEnabled:          true,
		MBBaseURL:          "https://mb-api.abuse.ch/api/v1/",
		MBRatePerMinute:    10,

		BehaviorEnabled:  false,
		SandboxTimeout:   5 * time.Minute,
		SandboxPollEvery: 10 * time.Second,

		QuarantineDir:     "quarantine",
		QuarantineEncrypt: true,
		RetentionDays:     30,
	}
}

func LoadConfig() (*Config, error) {
	cfg := Defaults()

	startPath := flag.String("path", strings.Join(cfg.StartPaths, ","), "Comma-separated list of start paths to scan.")
	includes := flag.String("include", "", "Comma-separated list of include patterns (default: none).")
	excludes := flag.String("exclude", "", "Comma-separated list of exclude patterns (default: none).")
	includeHidden := flag.Bool("include-hidden", cfg.IncludeHidden, "Scan hidden files (default: false).")
	recursive := flag.Bool("recursive", cfg.Recursive, "Recurse into subdirectories (default: true).")
	concurrency := flag.Int("concurrency", cfg.ConcurrencyLevel, "Concurrency level (default: number of CPUs).")
	nice := flag.String("nice", cfg.NiceLevel, "Nice level: high, medium, or low (default: medium).")
	maxFileSize := flag.Int64("max-file-size", cfg.MaxFileSize, "Maximum file size to scan in bytes.")
	maxIO := flag.Int("max-io-per-second", cfg.MaxIOPerSecond, "Maximum disk I/O operations per second.")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error, fatal, or panic.")
	report := flag.String("report", cfg.ReportFileName, "Report file name (default: vigil-<timestamp>.json).")
	skipCount := flag.Bool("skip-count", cfg.SkipCount, "Skip initial file counting to start scanning immediately.")

	sigEnabled := flag.Bool("signature", cfg.SignatureEnabled, "Enable signature-based detection (default: true).")
	sigDB := flag.String("signature-db", cfg.SignatureDBPath, "Path to the signature database.")
	heuristicEnabled := flag.Bool("heuristic", cfg.HeuristicEnabled, "Enable heuristic analysis (default: true).")
	sensitivity := flag.String("sensitivity", cfg.Sensitivity, "Heuristic sensitivity: low, medium, high, or paranoid.")
	extraHashes := flag.String("extra-hashes", "", "Comma-separated extra hash algorithms for flagged files (md5, sha1, blake3, xxh64).")
	fuzzyHash := flag.Bool("fuzzy-hash", cfg.FuzzyHash, "Compute TLSH fuzzy hashes for flagged files (default: false).")

	cloudLookup := flag.Bool("cloud-lookup", cfg.CloudLookupEnabled, "Enable cloud reputation lookups (default: true).")
	cacheDir := flag.String("cache-dir", cfg.CacheDir, "Directory for cached reputation results.")
	cacheTTL := flag.Duration("cache-ttl", cfg.CacheTTL, "Time-to-live for cached reputation results (default: 24h).")
	vtEnabled := flag.Bool("virustotal", cfg.VTEnabled, "Enable VirusTotal lookups (requires VIGIL_VT_API_KEY).")
	vtRate := flag.Int("virustotal-rate", cfg.VTRatePerMinute, "VirusTotal calls allowed per minute (default: 4).")
	mbEnabled := flag.Bool("malwarebazaar", cfg.MBEnabled, "Enable MalwareBazaar lookups (default: true).")
	mbRate := flag.Int("malwarebazaar-rate", cfg.MBRatePerMinute, "MalwareBazaar calls allowed per minute (default: 10).")

	behaviorEnabled := flag.Bool("behavior", cfg.BehaviorEnabled, "Enable behavioral analysis of flagged files (default: false).")
	sandboxURL := flag.String("sandbox-url", cfg.SandboxURL, "Remote sandbox API endpoint (default: none, local triage only).")
	sandboxTimeout := flag.Duration("sandbox-timeout", cfg.SandboxTimeout, "Hard timeout for remote sandbox analysis (default: 5m).")

	quarantineDir := flag.String("quarantine-dir", cfg.QuarantineDir, "Directory for the quarantine vault.")
	quarantineEncrypt := flag.Bool("quarantine-encrypt", cfg.QuarantineEncrypt, "Encrypt quarantined files at rest (default: true).")
	retention := flag.Int("quarantine-retention", cfg.RetentionDays, "Days to retain quarantined files (default: 30).")
	autoQuarantine := flag.Bool("auto-quarantine", cfg.AutoQuarantine, "Automatically quarantine confirmed malicious files (default: false).")

	listQuarantine := flag.Bool("list-quarantine", false, "List quarantined files and exit.")
	restoreID := flag.String("restore", "", "Restore a quarantined file by ID and exit.")
	restorePath := flag.String("restore-to", "", "Custom restore path (used with -restore).")
	deleteID := flag.String("quarantine-delete", "", "Permanently delete a quarantined file by ID and exit.")
	cleanupQuarantine := flag.Bool("quarantine-cleanup", false, "Delete quarantined files past the retention window and exit.")
	importSignatures := flag.String("import-signatures", "", "Import a JSON-lines signature feed into the database and exit.")
	listSignatures := flag.Bool("list-signatures", false, "List known signatures and exit.")

	configFile := flag.String("config", "", "Path to JSON configuration file (default: none).")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("Vigil version %s\n", version.Version)
		os.Exit(0)
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "path":
			cfg.StartPaths = parseCommaSeparated(*startPath)
		case "include":
			cfg.IncludePatterns = parseCommaSeparated(*includes)
		case "exclude":
			cfg.ExcludePatterns = parseCommaSeparated(*excludes)
		case "include-hidden":
			cfg.IncludeHidden = *includeHidden
		case "recursive":
			cfg.Recursive = *recursive
		case "concurrency":
			cfg.ConcurrencyLevel = *concurrency
			cfg.ConcurrencySet = true
		case "nice":
			cfg.NiceLevel = *nice
		case "max-file-size":
			cfg.MaxFileSize = *maxFileSize
		case "max-io-per-second":
			cfg.MaxIOPerSecond = *maxIO
		case "log-level":
			cfg.LogLevel = *logLevel
		case "report":
			cfg.ReportFileName = *report
		case "skip-count":
			cfg.SkipCount = *skipCount
		case "signature":
			cfg.SignatureEnabled = *sigEnabled
		case "signature-db":
			cfg.SignatureDBPath = *sigDB
		case "heuristic":
			cfg.HeuristicEnabled = *heuristicEnabled
		case "sensitivity":
			cfg.Sensitivity = strings.ToLower(strings.TrimSpace(*sensitivity))
		case "extra-hashes":
			cfg.ExtraHashes = parseCommaSeparated(*extraHashes)
		case "fuzzy-hash":
			cfg.FuzzyHash = *fuzzyHash
		case "cloud-lookup":
			cfg.CloudLookupEnabled = *cloudLookup
		case "cache-dir":
			cfg.CacheDir = strings.TrimSpace(*cacheDir)
		case "cache-ttl":
			cfg.CacheTTL = *cacheTTL
		case "virustotal":
			cfg.VTEnabled = *vtEnabled
		case "virustotal-rate":
			cfg.VTRatePerMinute = *vtRate
		case "malwarebazaar":
			cfg.MBEnabled = *mbEnabled
		case "malwarebazaar-rate":
			cfg.MBRatePerMinute = *mbRate
		case "behavior":
			cfg.BehaviorEnabled = *behaviorEnabled
		case "sandbox-url":
			cfg.SandboxURL = strings.TrimSpace(*sandboxURL)
		case "sandbox-timeout":
			cfg.SandboxTimeout = *sandboxTimeout
		case "quarantine-dir":
			cfg.QuarantineDir = strings.TrimSpace(*quarantineDir)
		case "quarantine-encrypt":
			cfg.QuarantineEncrypt = *quarantineEncrypt
		case "quarantine-retention":
			cfg.RetentionDays = *retention
		case "auto-quarantine":
			cfg.AutoQuarantine = *autoQuarantine
		case "list-quarantine":
			cfg.ListQuarantine = *listQuarantine
		case "restore":
			cfg.RestoreID = strings.TrimSpace(*restoreID)
		case "restore-to":
			cfg.RestorePath = strings.TrimSpace(*restorePath)
		case "quarantine-delete":
			cfg.DeleteID = strings.TrimSpace(*deleteID)
		case "quarantine-cleanup":
			cfg.CleanupQuarantine = *cleanupQuarantine
		case "import-signatures":
			cfg.ImportSignatures = strings.TrimSpace(*importSignatures)
		case "list-signatures":
			cfg.ListSignatures = *listSignatures
		}
	})

	cfg.NiceLevel = strings.ToLower(strings.TrimSpace(cfg.NiceLevel))
	cfg.Sensitivity = strings.ToLower(strings.TrimSpace(cfg.Sensitivity))
	cfg.ExtraHashes = normalizeAlgorithms(cfg.ExtraHashes)
	if len(cfg.StartPaths) == 0 {
		cfg.StartPaths = []string{"."}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func displayHelp() {
	fmt.Println("Vigil - Multi-Engine Malware Scanner")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  vigil [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  vigil --path \"/tmp\"")
	fmt.Println("  vigil --path \"/home,/var\" --sensitivity high")
	fmt.Println("  vigil --path \"/srv\" --auto-quarantine --quarantine-dir /var/lib/vigil/quarantine")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	if _, ok := raw["concurrency_level"]; ok {
		cfg.ConcurrencySet = true
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid config file format: %v", err)
	}
	return nil
}

func (cfg *Config) Validate() error {
	if len(cfg.StartPaths) == 0 {
		return fmt.Errorf("at least one start path must be specified")
	}
	if cfg.ConcurrencyLevel <= 0 {
		return fmt.Errorf("concurrency level must be positive")
	}
	if cfg.NiceLevel != "high" && cfg.NiceLevel != "medium" && cfg.NiceLevel != "low" {
		return fmt.Errorf("invalid nice level: %s", cfg.NiceLevel)
	}
	if cfg.MaxFileSize <= 0 {
		return fmt.Errorf("max-file-size must be positive")
	}
	if cfg.MaxIOPerSecond < 0 {
		return fmt.Errorf("max-io-per-second must be zero or positive")
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	switch cfg.Sensitivity {
	case "low", "medium", "high", "paranoid":
	default:
		return fmt.Errorf("invalid sensitivity: %s", cfg.Sensitivity)
	}
	for _, algo := range cfg.ExtraHashes {
		switch algo {
		case "md5", "sha1", "sha256", "blake3", "xxh64":
		default:
			return fmt.Errorf("unsupported extra hash algorithm: %s", algo)
		}
	}
	if cfg.SignatureEnabled && strings.TrimSpace(cfg.SignatureDBPath) == "" {
		return fmt.Errorf("signature-db must be set when signature detection is enabled")
	}
	if cfg.CacheTTL <= 0 {
		return fmt.Errorf("cache-ttl must be positive")
	}
	if cfg.VTRatePerMinute <= 0 {
		return fmt.Errorf("virustotal-rate must be positive")
	}
	if cfg.MBRatePerMinute <= 0 {
		return fmt.Errorf("malwarebazaar-rate must be positive")
	}
	if cfg.SandboxURL != "" {
		if !strings.HasPrefix(cfg.SandboxURL, "http://") && !strings.HasPrefix(cfg.SandboxURL, "https://") {
			return fmt.Errorf("sandbox-url must include scheme (http or https)")
		}
	}
	if cfg.SandboxTimeout <= 0 {
		return fmt.Errorf("sandbox-timeout must be positive")
	}
	if cfg.SandboxPollEvery <= 0 {
		cfg.SandboxPollEvery = 10 * time.Second
	}
	if strings.TrimSpace(cfg.QuarantineDir) == "" {
		return fmt.Errorf("quarantine-dir must not be empty")
	}
	if cfg.RetentionDays < 0 {
		return fmt.Errorf("quarantine-retention must be zero or positive")
	}
	return nil
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}
	return items
}

func normalizeAlgorithms(items []string) []string {
	normalized := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		normalized = append(normalized, item)
	}
	return normalized
}
