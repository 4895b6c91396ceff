package metrics

import "fmt"

func formatCSV(throughput, avgDelay, avgJitter, score float64) string {
	return fmt.Sprintf("%.7f,%.7f,%.7f,%.7f", throughput, avgDelay, avgJitter, score)
}
