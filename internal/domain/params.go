package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Params is the canonical generation parameter set. Nil fields are unset.
type Params struct {
	Temperature   *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Stop          []string `json:"stop,omitempty" yaml:"stop,omitempty"`
	ContextWindow *int     `json:"context_window,omitempty" yaml:"context_window,omitempty"`
}

// Canonical parameter names.
const (
	ParamTemperature   = "temperature"
	ParamTopP          = "top_p"
	ParamTopK          = "top_k"
	ParamMaxTokens     = "max_tokens"
	ParamStop          = "stop"
	ParamContextWindow = "context_window"
)

var paramAliases = map[string]string{
	"temperature":    ParamTemperature,
	"temp":           ParamTemperature,
	"top_p":          ParamTopP,
	"topp":           ParamTopP,
	"top_k":          ParamTopK,
	"topk":           ParamTopK,
	"max_tokens":     ParamMaxTokens,
	"n_predict":      ParamMaxTokens,
	"num_predict":    ParamMaxTokens,
	"max_new_tokens": ParamMaxTokens,
	"stop":           ParamStop,
	"stop_sequences": ParamStop,
	"context_window": ParamContextWindow,
	"num_ctx":        ParamContextWindow,
	"ctx_size":       ParamContextWindow,
	"n_ctx":          ParamContextWindow,
}

// CanonicalParam maps an alias to its canonical name.
func CanonicalParam(name string) (string, bool) {
	c, ok := paramAliases[strings.ToLower(strings.TrimSpace(strings.ReplaceAll(name, "-", "_")))]
	return c, ok
}

// NormalizeParams converts loosely typed, possibly aliased values into Params.
// Values may be strings (from the command line) or numbers (from YAML/JSON).
func NormalizeParams(raw map[string]any) (Params, error) {
	var p Params
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name, ok := CanonicalParam(k)
		if !ok {
			return Params{}, fmt.Errorf("unknown parameter %q", k)
		}
		v := raw[k]
		switch name {
		case ParamTemperature, ParamTopP:
			f, err := toFloat(v)
			if err != nil {
				return Params{}, fmt.Errorf("parameter %s: %w", k, err)
			}
			if name == ParamTemperature {
				p.Temperature = &f
			} else {
				p.TopP = &f
			}
		case ParamTopK, ParamMaxTokens, ParamContextWindow:
			n, err := toInt(v)
			if err != nil {
				return Params{}, fmt.Errorf("parameter %s: %w", k, err)
			}
			switch name {
			case ParamTopK:
				p.TopK = &n
			case ParamMaxTokens:
				p.MaxTokens = &n
			default:
				p.ContextWindow = &n
			}
		case ParamStop:
			p.Stop = append(p.Stop, toStrings(v)...)
		}
	}
	return p, nil
}

// ParseParamPairs parses "key=value" pairs from the command line.
func ParseParamPairs(pairs []string) (Params, error) {
	raw := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return Params{}, fmt.Errorf("invalid parameter %q (want key=value)", pair)
		}
		if name, ok := CanonicalParam(k); ok && name == ParamStop {
			prev, _ := raw[k].([]string)
			raw[k] = append(prev, v)
			continue
		}
		raw[k] = v
	}
	return NormalizeParams(raw)
}

// Merge returns p with every field set in over replacing p's value.
func (p Params) Merge(over Params) Params {
	out := p
	if over.Temperature != nil {
		out.Temperature = over.Temperature
	}
	if over.TopP != nil {
		out.TopP = over.TopP
	}
	if over.TopK != nil {
		out.TopK = over.TopK
	}
	if over.MaxTokens != nil {
		out.MaxTokens = over.MaxTokens
	}
	if len(over.Stop) > 0 {
		out.Stop = append([]string(nil), over.Stop...)
	}
	if over.ContextWindow != nil {
		out.ContextWindow = over.ContextWindow
	}
	return out
}

// MaxTokensOr returns the max_tokens value or def when unset.
func (p Params) MaxTokensOr(def int) int {
	if p.MaxTokens != nil && *p.MaxTokens > 0 {
		return *p.MaxTokens
	}
	return def
}

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("not an integer: %v", x)
		}
		return int(x), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	}
	return 0, fmt.Errorf("not an integer: %v", v)
}

func toStrings(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			out = append(out, fmt.Sprint(e))
		}
		return out
	}
	return []string{fmt.Sprint(v)}
}
