package envutil

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

// String returns the trimmed value of name, or def when unset/blank. log may be nil.
func String(name, def string, log *logger.Logger) string {
	v, ok := lookup(name)
	if !ok {
		debugDefault(log, name, def)
		return def
	}
	return v
}

func Int(name string, def int, log *logger.Logger) int {
	v, ok := lookup(name)
	if !ok {
		debugDefault(log, name, def)
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		debugUnparsable(log, name, v, def, err)
		return def
	}
	return i
}

func Float(name string, def float64, log *logger.Logger) float64 {
	v, ok := lookup(name)
	if !ok {
		debugDefault(log, name, def)
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		debugUnparsable(log, name, v, def, err)
		return def
	}
	return f
}

func Bool(name string, def bool, log *logger.Logger) bool {
	v, ok := lookup(name)
	if !ok {
		debugDefault(log, name, def)
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		debugUnparsable(log, name, v, def, nil)
		return def
	}
}

// Duration accepts Go duration strings ("750ms", "2m") or a bare integer of unit.
func Duration(name string, def time.Duration, unit time.Duration, log *logger.Logger) time.Duration {
	v, ok := lookup(name)
	if !ok {
		debugDefault(log, name, def)
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		debugUnparsable(log, name, v, def, err)
		return def
	}
	return time.Duration(n) * unit
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func debugDefault(log *logger.Logger, name string, def any) {
	if log != nil {
		log.Debug("Environment variable not found, using default", "env_var", name, "default", def)
	}
}

func debugUnparsable(log *logger.Logger, name, raw string, def any, err error) {
	if log != nil {
		log.Warn("Environment variable could not be parsed, using default", "env_var", name, "provided", raw, "default", def, "error", err)
	}
}
