// Package logger provides logging functionality for the application.
package logger

// Level represents the logging level.
type Level string

const (
	// DebugLevel logs debug messages.
	DebugLevel Level = "debug"
	// InfoLevel logs info messages.
	InfoLevel Level = "info"
	// WarnLevel logs warning messages.
	WarnLevel Level = "warn"
	// ErrorLevel logs error messages.
	ErrorLevel Level = "error"
	// FatalLevel logs fatal messages and exits.
	FatalLevel Level = "fatal"
)

// Default configuration values.
const (
	// DefaultLevel is the default logging level.
	DefaultLevel = InfoLevel
	// DefaultEncoding is the default log encoding format.
	DefaultEncoding = "console"
)

// Config represents the logger configuration.
type Config struct {
	// Level is the minimum logging level.
	Level Level `mapstructure:"level" yaml:"level" json:"level"`
	// Development enables development mode.
	Development bool `mapstructure:"development" yaml:"development" json:"development"`
	// Encoding sets the logger's encoding, "console" or "json".
	Encoding string `mapstructure:"encoding" yaml:"encoding" json:"encoding"`
	// LogFile, when set, duplicates output to a rotated file.
	LogFile string `mapstructure:"log_file" yaml:"log_file" json:"log_file"`
	// MaxSize is the maximum size in megabytes of the log file before rotation.
	MaxSize int `mapstructure:"max_size" yaml:"max_size" json:"max_size"`
	// MaxBackups is the maximum number of rotated files to retain.
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`
	// MaxAge is the maximum number of days to retain rotated files.
	MaxAge int `mapstructure:"max_age" yaml:"max_age" json:"max_age"`
	// Compress enables gzip compression of rotated files.
	Compress bool `mapstructure:"compress" yaml:"compress" json:"compress"`
}
