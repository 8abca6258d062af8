package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/go-mcprotocol/mc"
)

// parseValue converts command line text to a write value for item. Arrays are comma
// separated; strings are taken as is.
func parseValue(item *mc.Item, text string) (any, error) {
	if item.DataType == mc.TypeChar {
		return text, nil
	}

	fields := strings.Split(text, ",")
	if len(fields) != item.ArrayLength {
		return nil, fmt.Errorf("%s needs %d values, got %d", item.Addr, item.ArrayLength, len(fields))
	}

	values := make([]any, len(fields))
	for i, field := range fields {
		field = strings.TrimSpace(field)

		var err error
		if item.DataType == mc.TypeBit {
			values[i], err = strconv.ParseBool(field)
		} else {
			values[i], err = strconv.ParseFloat(field, 64)
		}
		if err != nil {
			return nil, fmt.Errorf("value %q for %s: %w", field, item.Addr, err)
		}
	}

	if item.ArrayLength == 1 {
		return values[0], nil
	}

	return values, nil
}
