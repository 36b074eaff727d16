package fmt

import (
	"fmt"
	"strconv"
	"strings"
)

// SprintFloat formats value with at most decimal digits after the point, without trailing zeros.
func SprintFloat(value float64, decimal uint) string {
	floatStr := strconv.FormatFloat(value, 'f', int(decimal), 64)
	if decimal > 0 {
		floatStr = strings.TrimRight(strings.TrimRight(floatStr, "0"), ".")
	}
	if floatStr == "-0" {
		floatStr = "0"
	}
	return floatStr
}

// SprintPercent formats a percentage with at most one decimal digit.
func SprintPercent(value float64) string {
	return fmt.Sprintf("%s%%", SprintFloat(value, 1))
}
