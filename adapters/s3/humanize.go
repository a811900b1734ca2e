package s3

import "fmt"

var byteUnits = []string{"KB", "MB", "GB", "TB"}

// FormatBytes 將位元組數轉為易讀的字串，例如 "2.00 KB"
func FormatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d bytes", n)
	}
	value := float64(n) / 1024
	unit := 0
	for value >= 1024 && unit < len(byteUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", value, byteUnits[unit])
}
