package app

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/faceforge/orchestrator/common/util"
	"github.com/faceforge/orchestrator/server/services/resource"
	"github.com/faceforge/orchestrator/server/store"
)

// LogSafeFlags lists the flag names (without leading dashes) whose values are safe to log
// verbatim at startup; any flag not on this list has its value masked, since job directories
// and database connection strings can embed local filesystem layout that's not meant for logs.
// Masking applies only to the "--name value" form: a value given as "-name value" or
// "--name=value" is logged as is.
var LogSafeFlags = []string{
	"http-addr",
	"log-level",
	"max-gpu-jobs",
	"max-cpu-workers",
	"max-ffmpeg-processes",
	"gpu-timeout-seconds",
	"poll-interval-ms",
}

// Config aggregates everything needed to construct an App.
type Config struct {
	HTTPAddr string
	LogLevel string

	DBDriver           store.DBDriver
	DBConnectionString store.DatabaseConnectionString

	JobLogDir    string
	AllowedRoots []string

	ResourceLimits resource.ResourceLimits
	PollInterval   time.Duration

	// AllowRemote controls whether non-localhost clients may reach the HTTP API; it is
	// overridden from the FACEFUSION_ALLOW_REMOTE environment variable after flags are parsed.
	AllowRemote bool
	// CORSOrigins lists the origins the HTTP API sends Access-Control-Allow-Origin for; it is
	// overridden from the CORS_ORIGINS (comma-separated) environment variable after flags.
	CORSOrigins []string
}

// ConfigFromFlags parses command-line flags (and FACEFUSION_ALLOW_REMOTE/CORS_ORIGINS
// environment variable overrides applied afterwards) into a Config.
func ConfigFromFlags() (Config, error) {
	var (
		httpAddr            = flag.String("http-addr", ":8080", "address for the HTTP API to listen on")
		logLevel            = flag.String("log-level", "info", "default log level (trace, debug, info, warning, error)")
		dbDriver            = flag.String("db-driver", "sqlite3", "database driver (sqlite3 or postgres)")
		dbConnectionString  = flag.String("db-connection-string", "file:orchestrator.db", "database connection string")
		jobLogDir           = flag.String("job-log-dir", "", "directory to write per-job structured log files to; empty disables them")
		maxGPUJobs          = flag.Int("max-gpu-jobs", 1, "maximum number of jobs allowed to hold the GPU concurrently")
		maxCPUWorkers       = flag.Int("max-cpu-workers", 4, "maximum number of worker goroutines processing jobs concurrently")
		maxFFmpegProcesses  = flag.Int("max-ffmpeg-processes", 2, "maximum number of concurrent ffmpeg processes")
		gpuTimeoutSeconds   = flag.Int("gpu-timeout-seconds", 3600, "maximum time to wait to acquire the GPU before failing a job")
		pollIntervalMillis  = flag.Int("poll-interval-ms", 500, "how often idle workers poll the queue for new work")
		allowRemote         = flag.Bool("allow-remote", false, "allow non-localhost clients to reach the HTTP API")
		corsOrigins         = flag.String("cors-origins", "", "comma-separated list of allowed CORS origins")
	)
	flag.Parse()

	config := Config{
		HTTPAddr:           *httpAddr,
		LogLevel:           *logLevel,
		DBDriver:           store.DBDriver(*dbDriver),
		DBConnectionString: store.DatabaseConnectionString(*dbConnectionString),
		JobLogDir:          *jobLogDir,
		AllowedRoots:       defaultAllowedRoots(),
		ResourceLimits: resource.ResourceLimits{
			MaxGPUJobs:         *maxGPUJobs,
			MaxCPUWorkers:      *maxCPUWorkers,
			MaxFFmpegProcesses: *maxFFmpegProcesses,
			GPUTimeout:         time.Duration(*gpuTimeoutSeconds) * time.Second,
		},
		PollInterval: time.Duration(*pollIntervalMillis) * time.Millisecond,
		AllowRemote:  *allowRemote,
	}
	if *corsOrigins != "" {
		config.CORSOrigins = strings.Split(*corsOrigins, ",")
	}

	if v, ok := os.LookupEnv("FACEFUSION_ALLOW_REMOTE"); ok {
		config.AllowRemote = v == "1" || strings.EqualFold(v, "true")
	}
	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok && v != "" {
		config.CORSOrigins = strings.Split(v, ",")
	}

	return config, nil
}

func defaultAllowedRoots() []string {
	roots := []string{os.TempDir()}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		roots = append(roots, home)
	}
	return roots
}

// LogSafeArgs returns os.Args with the values of any flag not in LogSafeFlags masked out,
// suitable for logging the process's invocation at startup.
func LogSafeArgs() []string {
	return util.FilterOSArgs(os.Args[1:], LogSafeFlags)
}
