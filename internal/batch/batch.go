package batch

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadURLs loads the batch file: one URL per line, blank lines and
// #-comments ignored. A missing file is not an error; it just yields no
// work, matching a fresh install where the file has not been created yet.
func ReadURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open urls file: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read urls file: %w", err)
	}
	return urls, nil
}

// Truncate empties the batch file after a run in which every URL was fully
// crawled. Failed items stay recorded in the session log, not here; the
// file's contract is "URLs not yet attempted".
func Truncate(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("truncate urls file: %w", err)
	}
	return f.Close()
}
