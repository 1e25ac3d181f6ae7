package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenPattern = regexp.MustCompile("{(.*?)}")

// ResolveInputParams materializes a step's declared parameters against the
// execution data map. String values may embed {$.<path>} tokens which are
// looked up with jsonpath over the accumulated step outputs, so a step can
// reference the trigger input ({$.input.x}) or an earlier step's output
// ({$.0.output.y}).
func ResolveInputParams(data map[string]any, inputParams map[string]any) map[string]any {
	resolved := make(map[string]any)
	resolveParams(data, inputParams, resolved)
	return resolved
}

func resolveParams(data map[string]any, params map[string]any, output map[string]any) {
	for k, v := range params {
		switch val := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			output[k] = out
			resolveParams(data, val, out)
		case string:
			output[k] = resolveString(data, val)
		case []any:
			output[k] = resolveList(data, val)
		default:
			output[k] = v
		}
	}
}

func resolveList(data map[string]any, list []any) []any {
	var output []any
	for _, v := range list {
		switch val := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			resolveParams(data, val, out)
			output = append(output, out)
		case string:
			output = append(output, resolveString(data, val))
		case []any:
			output = append(output, resolveList(data, val)...)
		default:
			output = append(output, v)
		}
	}
	return output
}

func resolveString(data map[string]any, in string) any {
	tokens := tokenPattern.FindAllString(in, -1)
	if len(tokens) == 0 {
		return in
	}
	// a value that is exactly one token keeps the looked up type
	if len(tokens) == 1 && tokens[0] == in {
		path := strings.TrimSuffix(strings.TrimPrefix(in, "{"), "}")
		if strings.HasPrefix(path, "$") {
			value, err := jsonpath.JsonPathLookup(data, path)
			if err == nil {
				return value
			}
		}
		return in
	}
	out := in
	for _, token := range tokens {
		path := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		if !strings.HasPrefix(path, "$") {
			continue
		}
		value, err := jsonpath.JsonPathLookup(data, path)
		if err != nil {
			continue
		}
		out = strings.ReplaceAll(out, token, fmt.Sprintf("%v", value))
	}
	return out
}
