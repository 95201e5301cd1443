// Package producer replays recorded match updates: into the consumer's HTTP
// endpoint, as an in-process subscription, or over a websocket feed.
package producer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
	"github.com/sawdustofmind/livescore-fanout/internal/models"
)

type ParsedUpdate struct {
	LineNumber        int
	Update            models.RawUpdate
	OriginalTimestamp time.Time
}

func ParseFile(filePath string) ([]ParsedUpdate, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Error("Failed to close file", zap.Error(closeErr))
		}
	}()
	return Parse(file)
}

// Parse reads one update per line. Lines may be plain JSON or wrapped in
// quotes with doubled inner quotes, as exported by the recording tool.
func Parse(r io.Reader) ([]ParsedUpdate, error) {
	scanner := bufio.NewScanner(r)

	const maxCapacity = 10 * 1024 * 1024
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxCapacity)

	var updates []ParsedUpdate
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// The export starts with a bare "extracted_data" header line.
		if lineNum == 1 && line == `"extracted_data"` {
			continue
		}
		if len(line) == 0 {
			continue
		}

		// Example: "{""Header"": {""Retry"": 0}}"
		if len(line) >= 2 && line[0] == '"' && line[len(line)-1] == '"' {
			line = strings.ReplaceAll(line[1:len(line)-1], `""`, `"`)
		}

		var u models.RawUpdate
		if err := json.Unmarshal([]byte(line), &u); err != nil {
			log.Warn("Failed to parse line as JSON",
				zap.Int("line_number", lineNum),
				zap.Error(err),
			)
			continue
		}
		if u.FixtureID == 0 {
			log.Debug("Skipping line without fixture id", zap.Int("line_number", lineNum))
			continue
		}

		updates = append(updates, ParsedUpdate{
			LineNumber:        lineNum,
			OriginalTimestamp: u.Header.TimeStampUtc,
			Update:            u,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	sort.SliceStable(updates, func(i, j int) bool {
		return updates[i].OriginalTimestamp.Before(updates[j].OriginalTimestamp)
	})

	log.Info("Successfully parsed updates", zap.Int("update_count", len(updates)))
	return updates, nil
}

// restamp returns u with its header timestamp moved to now so replayed
// updates look current to the consumer.
func restamp(u models.RawUpdate) models.RawUpdate {
	u.Header.TimeStampUtc = time.Now().UTC()
	return u
}
