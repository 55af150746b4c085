package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	maxParamsBodySize = 256 * 1024
	errUnsupportedMsg = "unsupported content type"
)

var (
	errBodyTooLarge  = errors.New("request body too large")
	errMalformedBody = errors.New("request body is not valid JSON")
	errMalformedForm = errors.New("request body is not a valid form")
	errNotJSONObject = errors.New("request body must be a JSON object")
)

// requestParams merges query, form and JSON body parameters. Later sources win, so a JSON body
// overrides a form body which overrides the query string.
type requestParams map[string]any

func readParams(r *http.Request) (requestParams, error) {
	params := requestParams{}
	if r == nil {
		return params, nil
	}
	mergeValues(params, r.URL.Query())

	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return params, nil
	}
	data, err := readLimitedBody(r, maxParamsBodySize)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return params, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, errMalformedForm
		}
		mergeValues(params, values)
	case "", "application/json", "text/plain":
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()
		var body any
		if err := decoder.Decode(&body); err != nil {
			return nil, errMalformedBody
		}
		object, ok := body.(map[string]any)
		if !ok {
			return nil, errNotJSONObject
		}
		for key, value := range object {
			params[key] = value
		}
	default:
		return nil, fmt.Errorf("%s %q", errUnsupportedMsg, mediaType)
	}
	return params, nil
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// mergeValues folds url.Values into params, expanding bracketed keys such as billing[city] and
// fee_lines[0][name] into nested maps.
func mergeValues(params requestParams, values url.Values) {
	for rawKey, list := range values {
		if len(list) == 0 {
			continue
		}
		value := list[len(list)-1]
		path := splitBracketKey(rawKey)
		if len(path) == 0 {
			continue
		}
		setPath(params, path, value)
	}
}

func splitBracketKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 {
		return []string{key}
	}
	parts := []string{key[:open]}
	rest := key[open:]
	for strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			break
		}
		parts = append(parts, rest[1:end])
		rest = rest[end+1:]
	}
	return parts
}

func setPath(target map[string]any, path []string, value string) {
	if len(path) == 1 {
		target[path[0]] = value
		return
	}
	child, ok := target[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		target[path[0]] = child
	}
	setPath(child, path[1:], value)
}

// String returns the parameter rendered as a trimmed string.
func (p requestParams) String(key string) string {
	return strings.TrimSpace(scalarString(p[key]))
}

// Bool interprets true/1/yes/on as true.
func (p requestParams) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case json.Number:
		n, err := v.Int64()
		return err == nil && n != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true
		}
	}
	return false
}

// StringMap returns an object parameter with scalar values rendered as strings.
func (p requestParams) StringMap(key string) map[string]string {
	object, ok := p[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(object))
	for k, v := range object {
		if s, ok := scalar(v); ok {
			out[k] = strings.TrimSpace(s)
		}
	}
	return out
}

// Objects returns a list of objects. Form encodings arrive as maps keyed by index and are ordered
// numerically.
func (p requestParams) Objects(key string) []map[string]any {
	switch v := p[key].(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if object, ok := item.(map[string]any); ok {
				out = append(out, object)
			}
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, errA := strconv.Atoi(keys[i])
			b, errB := strconv.Atoi(keys[j])
			if errA != nil || errB != nil {
				return keys[i] < keys[j]
			}
			return a < b
		})
		out := make([]map[string]any, 0, len(keys))
		for _, k := range keys {
			if object, ok := v[k].(map[string]any); ok {
				out = append(out, object)
			}
		}
		return out
	}
	return nil
}

func scalarString(value any) string {
	s, _ := scalar(value)
	return s
}

func scalar(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case nil:
		return "", false
	default:
		return "", false
	}
}

func writeParamsError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, errBodyTooLarge):
		writeHTTPError(ctx, w, "payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge)
	default:
		writeHTTPError(ctx, w, "invalid_request", err.Error(), http.StatusBadRequest)
	}
}
