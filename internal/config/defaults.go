package config

const (
	defaultMediaDir             = "~/.local/share/videoxt/media"
	defaultStagingDir           = "~/.local/share/videoxt/staging"
	defaultStateDir             = "~/.local/share/videoxt/state"
	defaultLogDir               = "~/.local/share/videoxt/logs"
	defaultAPIBind              = "127.0.0.1:5000"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultHandleCacheSize      = 20
	defaultFrameCacheSize       = 100
	defaultSeriesCacheSize      = 20
	defaultAnnotationCacheSize  = 20
	defaultFrameSizeCacheSize   = 20
	defaultStageLockRetryMillis = 50
	defaultReconcileMaxParallel = 4
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			MediaDir:   defaultMediaDir,
			StagingDir: defaultStagingDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Cache: Cache{
			Handles:     defaultHandleCacheSize,
			Frames:      defaultFrameCacheSize,
			Series:      defaultSeriesCacheSize,
			Annotations: defaultAnnotationCacheSize,
			FrameSizes:  defaultFrameSizeCacheSize,
		},
		Reconcile: Reconcile{
			StageLockRetryMillis: defaultStageLockRetryMillis,
			MaxParallel:          defaultReconcileMaxParallel,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
