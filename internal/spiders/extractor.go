package spiders

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/blankors/dspider/internal/dserrors"
	"github.com/blankors/dspider/internal/interfaces"
	"github.com/blankors/dspider/internal/models"
)

// JSONPathExtractor walks a dot path into the JSON response to find the item
// array, then derives one detail URL per item from the url_rule. It is the
// only concrete extraction strategy.
type JSONPathExtractor struct{}

// NewJSONPathExtractor returns the JSON dot-path extractor.
func NewJSONPathExtractor() *JSONPathExtractor {
	return &JSONPathExtractor{}
}

// Extract implements interfaces.Extractor. Each path segment is a map key; a
// missing segment fails the page with a schema error.
func (e *JSONPathExtractor) Extract(body []byte, rule models.ListPageRule) (*interfaces.Extraction, error) {
	var root interface{}
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, dserrors.Wrap(dserrors.KindProtocol, "list page is not JSON", err)
	}

	node := root
	for _, segment := range strings.Split(rule.ListData, ".") {
		obj, ok := node.(map[string]interface{})
		if !ok {
			return nil, dserrors.Newf(dserrors.KindProtocol, "list_data segment %q: parent is not an object", segment)
		}
		node, ok = obj[segment]
		if !ok {
			return nil, dserrors.Newf(dserrors.KindProtocol, "list_data segment %q missing from response", segment)
		}
	}

	rawItems, ok := node.([]interface{})
	if !ok {
		return nil, dserrors.Newf(dserrors.KindProtocol, "list_data %q does not point at an array", rule.ListData)
	}

	extraction := &interfaces.Extraction{}
	for _, raw := range rawItems {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		url := deriveURL(item, rule.URLRule)
		item["url"] = url
		extraction.Items = append(extraction.Items, item)
		extraction.URLs = append(extraction.URLs, url)
	}
	return extraction, nil
}

// deriveURL builds the detail URL for one item. With an empty postdata rule
// the detail request is a GET whose query string maps item fields through
// params; otherwise the detail endpoint is POSTed and the URL is the bare
// url_path.
func deriveURL(item map[string]interface{}, rule models.URLRule) string {
	if len(rule.Postdata) > 0 {
		return rule.URLPath
	}

	keys := make([]string, 0, len(rule.Params))
	for itemKey := range rule.Params {
		keys = append(keys, itemKey)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, itemKey := range keys {
		queryKey := rule.Params[itemKey]
		pairs = append(pairs, fmt.Sprintf("%s=%s", queryKey, itemValue(item, itemKey)))
	}
	if len(pairs) == 0 {
		return rule.URLPath
	}
	return rule.URLPath + "?" + strings.Join(pairs, "&")
}

// DerivePostdata builds the POST body for one item under a postdata url
// rule, mapping item fields through the rule's key map.
func DerivePostdata(item map[string]interface{}, rule models.URLRule) map[string]string {
	if len(rule.Postdata) == 0 {
		return nil
	}
	body := make(map[string]string, len(rule.Postdata))
	for itemKey, bodyKey := range rule.Postdata {
		body[bodyKey] = itemValue(item, itemKey)
	}
	return body
}

func itemValue(item map[string]interface{}, key string) string {
	v, ok := item[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; integers print without exponent.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
