package sim

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"
)

// WriteCSV writes the given samples to path as CSV, one row per step, using
// the csv tags on PerformanceSample. An existing file is truncated.
func WriteCSV(path string, samples []PerformanceSample) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating results file: %w", err)
	}
	if err := gocsv.MarshalFile(&samples, f); err != nil {
		f.Close()
		return fmt.Errorf("writing results: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing results file: %w", err)
	}
	return nil
}
