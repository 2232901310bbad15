// Package logger is a small leveled-logging facade shared by every
// PokeProtocol component. The call-site API (Info/Warn/Error/...) is kept
// stable while the engine underneath is zap rather than the standard
// log package.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI color codes, used only by Banner/Section which print directly to
// stdout for operator-facing startup output.
const (
	ColorReset = "\033[0m"
	ColorCyan  = "\033[36m"
	ColorGreen = "\033[32m"
)

var base *zap.SugaredLogger

func init() {
	base = newLogger(zapcore.InfoLevel)
}

func newLogger(level zapcore.Level) *zap.SugaredLogger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(cfg)
	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	return zap.New(core).Sugar()
}

// SetLevel sets the minimum level the default logger will emit.
func SetLevel(level zapcore.Level) {
	base = newLogger(level)
}

// Debug logs a debug message.
func Debug(format string, args ...interface{}) {
	base.Debugf(format, args...)
}

// Info logs an informational message.
func Info(format string, args ...interface{}) {
	base.Infof(format, args...)
}

// Warn logs a warning message.
func Warn(format string, args ...interface{}) {
	base.Warnf(format, args...)
}

// Error logs an error message.
func Error(format string, args ...interface{}) {
	base.Errorf(format, args...)
}

// Success logs a notable positive event at info level.
func Success(format string, args ...interface{}) {
	base.Infof("OK: "+format, args...)
}

// Fatal logs a fatal error and exits the process.
func Fatal(format string, args ...interface{}) {
	base.Fatalf(format, args...)
}

// Section prints an un-leveled section header, for CLI startup banners only.
func Section(title string) {
	border := "───────────────────────────────────────────"
	fmt.Printf("\n%s%s%s\n", ColorCyan, border, ColorReset)
	fmt.Printf("%s %s%s\n", ColorCyan, title, ColorReset)
	fmt.Printf("%s%s%s\n\n", ColorCyan, border, ColorReset)
}

// Banner prints the application banner for the CLI entry point only.
func Banner(title, version string) {
	fmt.Printf("%sPokeProtocol%s — %s%s%s (v%s)\n", ColorCyan, ColorReset, ColorGreen, title, ColorReset, version)
}

// Sync flushes any buffered log entries; call before process exit.
func Sync() {
	_ = base.Sync()
}
