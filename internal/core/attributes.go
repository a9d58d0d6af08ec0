package core

import (
	"context"
	"strings"
)

// attributeTypes infers the type of a newly created attribute from its name.
// Existing attributes keep whatever type is stored.
var attributeTypes = map[string]AttributeType{
	"color":    AttributeColor,
	"colour":   AttributeColor,
	"size":     AttributeSize,
	"weight":   AttributeNumeric,
	"length":   AttributeNumeric,
	"width":    AttributeNumeric,
	"height":   AttributeNumeric,
	"depth":    AttributeNumeric,
	"capacity": AttributeNumeric,
	"volume":   AttributeNumeric,
	"material": AttributeText,
	"brand":    AttributeText,
	"style":    AttributeText,
	"pattern":  AttributeText,
}

// InferAttributeType looks the attribute name up in the static type table.
// Multi-word names match on any word, so "Shoe Size" is a size.
func InferAttributeType(name string) AttributeType {
	key := normalizeName(name)
	if t, ok := attributeTypes[key]; ok {
		return t
	}
	for _, word := range strings.Fields(key) {
		if t, ok := attributeTypes[word]; ok {
			return t
		}
	}
	return AttributeSelect
}

// SplitValues splits a comma-separated attribute cell into trimmed, non-empty
// values with case-insensitive duplicates removed. The first spelling wins.
func SplitValues(raw string) []string {
	var values []string
	seen := make(map[string]bool)
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		key := normalizeName(tok)
		if seen[key] {
			continue
		}
		seen[key] = true
		values = append(values, tok)
	}
	return values
}

// MaterializeAttributes resolves every attr_ column of a row into attribute
// option links. Columns without values contribute nothing. Links come back in
// column order with duplicate options removed.
func MaterializeAttributes(ctx context.Context, r *Resolver, columns []AttributeColumn) ([]AttributeLink, error) {
	var links []AttributeLink
	seen := make(map[int64]bool)

	for _, col := range columns {
		values := SplitValues(col.Raw)
		if len(values) == 0 {
			continue
		}

		attrID, err := r.Attribute(ctx, col.Name)
		if err != nil {
			return nil, err
		}

		for _, v := range values {
			optID, err := r.Option(ctx, attrID, v)
			if err != nil {
				return nil, err
			}
			if seen[optID] {
				continue
			}
			seen[optID] = true
			links = append(links, AttributeLink{
				AttributeID: attrID,
				OptionID:    optID,
				Attribute:   col.Name,
				Value:       v,
			})
		}
	}
	return links, nil
}
