package logging

// LogConfig configures logger construction
type LogConfig struct {
	Level           LogLevel
	OutputFile      string
	MaxFileSize     int64
	EnableConsole   bool
	EnableColor     bool
	EnableTimestamp bool
	EnableDebug     bool
	RedactSensitive bool
}

// DefaultLogConfig returns the default logging configuration
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:           INFO,
		MaxFileSize:     100 * 1024 * 1024,
		EnableConsole:   true,
		EnableColor:     true,
		EnableTimestamp: true,
		RedactSensitive: true,
	}
}

// NewLogger builds a logger from the configuration. With both console and
// file enabled a MultiLogger is returned; with neither, a NopLogger.
func NewLogger(config LogConfig) (Logger, error) {
	level := config.Level
	if config.EnableDebug {
		level = DEBUG
	}

	var console Logger
	if config.EnableConsole {
		console = NewConsoleLogger(ConsoleLoggerConfig{
			Level:            level,
			ColorEnabled:     config.EnableColor,
			TimestampEnabled: config.EnableTimestamp,
			RedactSensitive:  config.RedactSensitive,
		})
	}

	var file Logger
	if config.OutputFile != "" {
		fl, err := NewFileLogger(FileLoggerConfig{
			FilePath:      config.OutputFile,
			Level:         level,
			MaxFileSize:   config.MaxFileSize,
			RotateEnabled: config.MaxFileSize > 0,
		})
		if err != nil {
			return nil, err
		}
		file = fl
	}

	switch {
	case console != nil && file != nil:
		return NewMultiLogger(console, file), nil
	case console != nil:
		return console, nil
	case file != nil:
		return file, nil
	default:
		return NewNopLogger(), nil
	}
}
