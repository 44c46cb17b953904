package yolopv2

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// DefaultLabels returns the class labels of the stock detection head, which
// is trained on a single vehicle class.  Use LoadLabels for retrained heads
// with a custom label file.
func DefaultLabels() []string {
	return []string{"vehicle"}
}

// LoadLabels reads class labels from the given text file, one label per
// line.  The line number corresponds to the class id carried on each
// detection.  Blank lines and lines starting with # are skipped so label
// files may carry comments.
func LoadLabels(file string) ([]string, error) {

	f, err := os.Open(file)

	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}

	defer f.Close()

	scanner := bufio.NewScanner(f)

	var labels []string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		labels = append(labels, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	return labels, nil
}
