package utils

import (
	"strconv"
	"strings"
)

// PadInt formats an integer zero-padded to the specified total width
func PadInt(num, width int) string {
	str := strconv.Itoa(num)

	padding := width - len(str)
	if padding > 0 {
		str = strings.Repeat("0", padding) + str
	}

	return str
}
