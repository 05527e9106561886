package llm

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Request option ranges shared by the providers.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinTopP        = 0.0
	MaxTopP        = 1.0
	MinPenalty     = -2.0
	MaxPenalty     = 2.0

	MinTimeout = time.Second
	MaxTimeout = 10 * time.Minute
)

// RequestOptions is the parsed form of the options map passed to DoRequest.
type RequestOptions struct {
	Model       string
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	System      string
	// Extra holds keys that are not common to every provider.
	Extra map[string]any
}

// ParseRequestOptions reads the common keys from opts. Values of the wrong
// type or outside their range fall back to the defaults; numeric values may
// be any Go integer or float type.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		Model:     defaultModel,
		MaxTokens: DefaultMaxTokens,
		Extra:     make(map[string]any),
	}

	for key, value := range opts {
		switch key {
		case "model":
			if s, ok := value.(string); ok && s != "" {
				options.Model = s
			}
		case "max_tokens":
			if f, ok := toFloat(value); ok && f >= 1 {
				options.MaxTokens = int(f)
			}
		case "temperature":
			if f, ok := toFloat(value); ok && f >= MinTemperature && f <= MaxTemperature {
				options.Temperature = &f
			}
		case "top_p":
			if f, ok := toFloat(value); ok && f >= MinTopP && f <= MaxTopP {
				options.TopP = &f
			}
		case "system":
			if s, ok := value.(string); ok {
				options.System = s
			}
		default:
			options.Extra[key] = value
		}
	}
	return options
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// extraFloat returns a clamped float from options.Extra.
func (o RequestOptions) extraFloat(key string, lo, hi float64) (float64, bool) {
	f, ok := toFloat(o.Extra[key])
	if !ok {
		return 0, false
	}
	return ClampFloat64(f, lo, hi), true
}

// ClampFloat64 limits v to [lo, hi].
func ClampFloat64(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

// ValidateBaseURL checks that raw is an absolute http(s) URL.
func ValidateBaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("URL must include a host")
	}
	return u.String(), nil
}

// ValidateTimeout clamps a positive timeout to [MinTimeout, MaxTimeout].
func ValidateTimeout(d time.Duration) time.Duration {
	return max(MinTimeout, min(d, MaxTimeout))
}
