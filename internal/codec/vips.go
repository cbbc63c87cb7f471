package codec

import (
	"runtime"
	"sync"

	"pixelpress/internal/logging"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	vipsInitMutex   sync.Mutex
	vipsInitialized bool
	vipsAvailable   bool
	vipsConcurrency int
)

// InitVips starts libvips. Safe to call from multiple goroutines; only the
// first call does work. govips does not support a stop/start cycle within
// one process, so Shutdown is terminal.
func InitVips() error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	vips.LoggingSettings(vipsLogHandler, vipsLogLevel())

	// One vips thread per available CPU; a threaded pool is what lets the
	// jxl codec run at all.
	concurrency := runtime.GOMAXPROCS(0)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: concurrency,
		MaxCacheMem:      64 * 1024 * 1024,
		MaxCacheSize:     100,
		ReportLeaks:      false,
		CacheTrace:       false,
		CollectStats:     false,
	})

	vipsInitialized = true
	vipsAvailable = true
	vipsConcurrency = concurrency
	logging.Info("libvips initialized (version: %s, concurrency: %d)", vips.Version, concurrency)
	return nil
}

// ShutdownVips releases libvips resources. Call once at process exit.
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// VipsAvailable reports whether libvips is initialized and usable.
func VipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// Threaded reports whether the libvips worker pool has more than one
// thread. The jxl encoder refuses to run single-threaded.
func Threaded() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	if vipsInitialized {
		return vipsConcurrency > 1
	}
	return runtime.GOMAXPROCS(0) > 1
}

// vipsLogLevel maps our log level to the minimum vips level worth hearing.
func vipsLogLevel() vips.LogLevel {
	switch logging.GetLevel() {
	case logging.LevelDebug:
		return vips.LogLevelInfo
	case logging.LevelError:
		return vips.LogLevelCritical
	default:
		return vips.LogLevelWarning
	}
}

func vipsLogHandler(domain string, level vips.LogLevel, msg string) {
	switch level {
	case vips.LogLevelError, vips.LogLevelCritical:
		logging.Error("[%s] %s", domain, msg)
	case vips.LogLevelWarning:
		logging.Warn("[%s] %s", domain, msg)
	default:
		logging.Debug("[%s] %s", domain, msg)
	}
}
