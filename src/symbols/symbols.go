// Package symbols handles the attribute suffix of market symbols,
// e.g. "IBM{price=bid,tho=true}".
package symbols

import (
	"sort"
	"strings"
)

// Split separates the base symbol from its attribute map.
// A symbol without a well formed trailing "{...}" has no attributes.
func Split(symbol string) (string, map[string]string) {
	open := attrStart(symbol)
	if open < 0 {
		return symbol, nil
	}
	base := symbol[:open]
	body := symbol[open+1 : len(symbol)-1]
	attrs := make(map[string]string)
	for _, pair := range strings.Split(body, ",") {
		if pair == "" {
			continue
		}
		// an empty key is legal: "AAPL{=5m}" carries a candle period
		k, v, _ := strings.Cut(pair, "=")
		attrs[k] = v
	}
	return base, attrs
}

// Join builds the canonical form: keys ascending, suffix elided when empty.
func Join(base string, attrs map[string]string) string {
	if len(attrs) == 0 {
		return base
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(base)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(attrs[k])
	}
	b.WriteByte('}')
	return b.String()
}

// ChangeAttribute sets key to *value, or removes it when value is nil.
func ChangeAttribute(symbol, key string, value *string) string {
	base, attrs := Split(symbol)
	if attrs == nil {
		attrs = make(map[string]string)
	}
	if value == nil {
		delete(attrs, key)
	} else {
		attrs[key] = *value
	}
	return Join(base, attrs)
}

// BaseSymbol strips the attribute suffix.
func BaseSymbol(symbol string) string {
	base, _ := Split(symbol)
	return base
}

// GetAttribute returns the value of key, if present.
func GetAttribute(symbol, key string) (string, bool) {
	_, attrs := Split(symbol)
	v, ok := attrs[key]
	return v, ok
}

// Normalize returns the canonical spelling of symbol.
func Normalize(symbol string) string {
	base, attrs := Split(symbol)
	return Join(base, attrs)
}

// attrStart returns the index of the "{" opening a trailing attribute block, or -1.
// Braces nested inside the base (e.g. "=AAPL{=d}+IBM") are not attribute blocks
// unless they close the string. An empty trailing "{}" is part of the base.
func attrStart(symbol string) int {
	if !strings.HasSuffix(symbol, "}") {
		return -1
	}
	open := strings.LastIndexByte(symbol, '{')
	if open <= 0 || open >= len(symbol)-2 {
		return -1
	}
	return open
}
