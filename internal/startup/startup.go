package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pelletier/go-toml/v2"

	"pixelpress/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds all application configuration
type Config struct {
	DataDir         string
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	LogHealthChecks bool

	// Tolerance is the target-size acceptance fill fraction.
	Tolerance float64
	// MaxUploadBytes bounds optimize request bodies.
	MaxUploadBytes int64

	// Derived paths
	HistoryPath string

	// HistoryEnabled is false when the data directory is not writable;
	// the server then runs without job history.
	HistoryEnabled bool
}

// fileConfig mirrors the optional TOML configuration file.
type fileConfig struct {
	Server struct {
		Port           string `toml:"port"`
		MetricsPort    string `toml:"metrics_port"`
		MetricsEnabled *bool  `toml:"metrics_enabled"`
	} `toml:"server"`
	Optimize struct {
		Tolerance   float64 `toml:"tolerance"`
		MaxUploadMB int64   `toml:"max_upload_mb"`
	} `toml:"optimize"`
	Storage struct {
		DataDir string `toml:"data_dir"`
	} `toml:"storage"`
}

// LoadConfig builds configuration from defaults, the optional TOML file
// named by PIXELPRESS_CONFIG, and environment variables, in that order of
// increasing precedence.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	config := &Config{
		DataDir:         "/data",
		Port:            "8080",
		MetricsPort:     "9090",
		MetricsEnabled:  true,
		LogHealthChecks: true,
		Tolerance:       0.85,
		MaxUploadBytes:  64 << 20,
	}

	if path := os.Getenv("PIXELPRESS_CONFIG"); path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	applyEnv(config)

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  DATA_DIR:          %s", config.DataDir)
	logging.Info("  PORT:              %s", config.Port)
	logging.Info("  METRICS_PORT:      %s", config.MetricsPort)
	logging.Info("  METRICS_ENABLED:   %v", config.MetricsEnabled)
	logging.Info("  TOLERANCE:         %.2f", config.Tolerance)
	logging.Info("  MAX_UPLOAD:        %d MiB", config.MaxUploadBytes>>20)
	logging.Info("  LOG_HEALTH_CHECKS: %v", config.LogHealthChecks)
	logging.Info("  LOG_LEVEL:         %s", logging.GetLevel())

	if config.Tolerance <= 0 || config.Tolerance > 1 {
		logging.Warn("  Tolerance %.2f out of range (0,1], using 0.85", config.Tolerance)
		config.Tolerance = 0.85
	}

	dataDir, err := filepath.Abs(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	config.DataDir = dataDir
	config.HistoryPath = filepath.Join(dataDir, "jobs.db")

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Data directory (absolute): %s", dataDir)

	config.HistoryEnabled = setupDataDir(dataDir)

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Job history: %s", enabledString(config.HistoryEnabled))
	logging.Info("    Metrics:     %s", enabledString(config.MetricsEnabled))

	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	logging.Info("Loaded configuration file: %s", path)

	if fc.Server.Port != "" {
		config.Port = fc.Server.Port
	}
	if fc.Server.MetricsPort != "" {
		config.MetricsPort = fc.Server.MetricsPort
	}
	if fc.Server.MetricsEnabled != nil {
		config.MetricsEnabled = *fc.Server.MetricsEnabled
	}
	if fc.Optimize.Tolerance > 0 {
		config.Tolerance = fc.Optimize.Tolerance
	}
	if fc.Optimize.MaxUploadMB > 0 {
		config.MaxUploadBytes = fc.Optimize.MaxUploadMB << 20
	}
	if fc.Storage.DataDir != "" {
		config.DataDir = fc.Storage.DataDir
	}
	return nil
}

func applyEnv(config *Config) {
	config.DataDir = getEnv("DATA_DIR", config.DataDir)
	config.Port = getEnv("PORT", config.Port)
	config.MetricsPort = getEnv("METRICS_PORT", config.MetricsPort)
	config.MetricsEnabled = getEnvBool("METRICS_ENABLED", config.MetricsEnabled)
	config.LogHealthChecks = getEnvBool("LOG_HEALTH_CHECKS", config.LogHealthChecks)

	if s := os.Getenv("PIXELPRESS_TOLERANCE"); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			config.Tolerance = v
		} else {
			logging.Warn("Invalid PIXELPRESS_TOLERANCE %q: %v", s, err)
		}
	}
	if s := os.Getenv("MAX_UPLOAD_MB"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil && v > 0 {
			config.MaxUploadBytes = v << 20
		} else {
			logging.Warn("Invalid MAX_UPLOAD_MB %q", s)
		}
	}
}

func setupDataDir(path string) bool {
	logging.Debug("  Setting up data directory: %s", path)

	if err := os.MkdirAll(path, 0o755); err != nil {
		logging.Warn("    Failed to create data directory: %v", err)
		logging.Warn("    Job history will be disabled")
		return false
	}

	testFile := filepath.Join(path, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		logging.Warn("    Data directory is not writable: %v", err)
		logging.Warn("    Job history will be disabled")
		return false
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("    failed to remove test file %s: %v", testFile, err)
		// Write access is confirmed regardless
	}

	logging.Info("  [OK] Data directory is writable")
	return true
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		name := route.GetName()

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   name,
			})
		}

		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes
func LogHTTPRoutes(router *mux.Router) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	routes, err := GetRoutes(router)
	if err != nil {
		logging.Warn("error walking routes: %v", err)
	}

	logging.Info("  Registered routes (%d total):", len(routes))
	for _, route := range routes {
		logging.Info("    %-6s %s", route.Method, route.Path)
	}
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:  %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    API:      http://0.0.0.0:%s", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:  http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:  DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogCodecInit logs codec backend initialization
func LogCodecInit(vipsAvailable bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("CODEC INITIALIZATION")
	logging.Info("------------------------------------------------------------")

	if !vipsAvailable {
		logging.Warn("  libvips unavailable; webp, avif and jxl encoding disabled")
		logging.Warn("  Requests for those formats will fall back to jpeg/png")
		return
	}
	logging.Info("  [OK] libvips is available")
}

// LogHistoryInit logs job history store initialization
func LogHistoryInit(enabled bool, duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("JOB HISTORY INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	if !enabled {
		logging.Warn("  Job history disabled")
		return
	}
	logging.Info("  [OK] History store initialized in %v", duration)
}

// LogPoolInit logs worker pool startup
func LogPoolInit(size int) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("WORKER POOL")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Pool warmed with %d workers", size)
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
    ____  _           ______
   / __ \(_)  _____  / / __ \________  __________
  / /_/ / / |/_/ _ \/ / /_/ / ___/ _ \/ ___/ ___/
 / ____/ />  </  __/ / ____/ /  /  __(__  |__  )
/_/   /_/_/|_|\___/_/_/   /_/   \___/____/____/

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	logging.Info("")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
