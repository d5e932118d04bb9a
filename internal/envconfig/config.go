package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

var (
	// Set via DWCONV_DEBUG in the environment
	Debug bool
	// Set via DWCONV_DEBUG=2 in the environment
	Trace bool
	// Set via DWCONV_NUM_THREADS in the environment
	NumThreads int
	// Set via DWCONV_ATOL in the environment
	AbsTolerance float64
	// Set via DWCONV_RTOL in the environment
	RelTolerance float64
	// Set via DWCONV_WARN_ONLY in the environment
	WarnOnly bool
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"DWCONV_DEBUG":       {"DWCONV_DEBUG", Debug, "Show additional debug information (e.g. DWCONV_DEBUG=1, 2 for trace)"},
		"DWCONV_NUM_THREADS": {"DWCONV_NUM_THREADS", NumThreads, "Worker goroutines used by the kernel (default number of CPUs)"},
		"DWCONV_ATOL":        {"DWCONV_ATOL", AbsTolerance, "Absolute tolerance for output comparison (default 1e-8)"},
		"DWCONV_RTOL":        {"DWCONV_RTOL", RelTolerance, "Relative tolerance for output comparison (default 1e-5)"},
		"DWCONV_WARN_ONLY":   {"DWCONV_WARN_ONLY", WarnOnly, "Log a warning instead of failing when outputs differ"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	LoadConfig()
}

// LoadConfig resets every setting to its default and then applies the environment.
func LoadConfig() {
	Debug = false
	Trace = false
	NumThreads = runtime.NumCPU()
	AbsTolerance = 1e-8
	RelTolerance = 1e-5
	WarnOnly = false

	if debug := clean("DWCONV_DEBUG"); debug != "" {
		d, err := strconv.ParseBool(debug)
		if err == nil {
			Debug = d
		} else {
			Debug = true
		}
		if n, err := strconv.Atoi(debug); err == nil && n >= 2 {
			Trace = true
		}
	}

	if n := clean("DWCONV_NUM_THREADS"); n != "" {
		val, err := strconv.Atoi(n)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "DWCONV_NUM_THREADS", n, "error", err)
		} else {
			NumThreads = val
		}
	}

	if atol := clean("DWCONV_ATOL"); atol != "" {
		val, err := strconv.ParseFloat(atol, 64)
		if err != nil || val < 0 {
			slog.Error("invalid setting, ignoring", "DWCONV_ATOL", atol, "error", err)
		} else {
			AbsTolerance = val
		}
	}

	if rtol := clean("DWCONV_RTOL"); rtol != "" {
		val, err := strconv.ParseFloat(rtol, 64)
		if err != nil || val < 0 {
			slog.Error("invalid setting, ignoring", "DWCONV_RTOL", rtol, "error", err)
		} else {
			RelTolerance = val
		}
	}

	if warn := clean("DWCONV_WARN_ONLY"); warn != "" {
		w, err := strconv.ParseBool(warn)
		if err == nil {
			WarnOnly = w
		} else {
			WarnOnly = true
		}
	}
}
