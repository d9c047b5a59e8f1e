package eval

import (
	"encoding/json"
	"fmt"
	"strings"

	"nexuseval/internal/logging"
)

// Dataset column discovery and context-cell parsing for tabular inputs. Rows
// arrive as generic records; the column roles are recognized by name.

var (
	queryColumnNames       = []string{"query", "question", "input", "prompt"}
	groundTruthColumnNames = []string{"ground_truth", "reference", "target", "gt", "expected"}
)

const (
	botColumnPrefix     = "Bot_"
	contextColumnPrefix = "Context_"
	contextColumnShared = "Context"
)

// ParseContextCell splits one context cell into chunks. A JSON array cell is
// decoded element-wise; otherwise "||" splits, then blank lines, then the
// whole trimmed cell as a single chunk. An explicit delimiter overrides the
// autodetection.
func ParseContextCell(cell, delimiter string) []string {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return nil
	}

	if delimiter != "" {
		return cleanChunks(strings.Split(trimmed, delimiter))
	}

	if strings.HasPrefix(trimmed, "[") {
		var arr []interface{}
		if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
			chunks := make([]string, 0, len(arr))
			for _, item := range arr {
				if s, ok := item.(string); ok {
					chunks = append(chunks, s)
				} else {
					chunks = append(chunks, CanonicalJSON(item))
				}
			}
			return cleanChunks(chunks)
		}
	}
	if strings.Contains(trimmed, "||") {
		return cleanChunks(strings.Split(trimmed, "||"))
	}
	if strings.Contains(trimmed, "\n\n") {
		return cleanChunks(strings.Split(trimmed, "\n\n"))
	}
	return []string{trimmed}
}

func cleanChunks(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// DatasetColumns describes the recognized roles in a tabular dataset.
type DatasetColumns struct {
	Query         string
	GroundTruth   string
	Bots          []string
	BotContexts   map[string]string
	SharedContext string
}

// DiscoverColumns inspects the header set and maps columns to roles. The
// query column is required; everything else is optional. Bot answer columns
// carry the "Bot_" prefix and each may have a matching "Context_<bot>"
// column, falling back to a shared "Context" column.
func DiscoverColumns(headers []string) (*DatasetColumns, error) {
	byLower := make(map[string]string, len(headers))
	for _, h := range headers {
		byLower[strings.ToLower(strings.TrimSpace(h))] = h
	}

	cols := &DatasetColumns{BotContexts: make(map[string]string)}
	for _, name := range queryColumnNames {
		if original, ok := byLower[name]; ok {
			cols.Query = original
			break
		}
	}
	if cols.Query == "" {
		return nil, fmt.Errorf("no query column found (expected one of %s)", strings.Join(queryColumnNames, ", "))
	}
	for _, name := range groundTruthColumnNames {
		if original, ok := byLower[name]; ok {
			cols.GroundTruth = original
			break
		}
	}

	for _, h := range headers {
		trimmed := strings.TrimSpace(h)
		if strings.HasPrefix(trimmed, botColumnPrefix) {
			bot := strings.TrimPrefix(trimmed, botColumnPrefix)
			if bot != "" {
				cols.Bots = append(cols.Bots, bot)
			}
		}
		if trimmed == contextColumnShared {
			cols.SharedContext = h
		}
	}
	for _, bot := range cols.Bots {
		want := strings.ToLower(contextColumnPrefix + bot)
		if original, ok := byLower[want]; ok {
			cols.BotContexts[bot] = original
		}
	}
	return cols, nil
}

// BuildDataset converts raw rows into test cases using discovered columns.
// Rows with an empty query are skipped with a warning.
func BuildDataset(rows []map[string]string, cols *DatasetColumns, contextDelimiter string) []TestCase {
	cases := make([]TestCase, 0, len(rows))
	for i, row := range rows {
		query := strings.TrimSpace(row[cols.Query])
		if query == "" {
			logging.Warn("Row %d has an empty query, skipping", i+1)
			continue
		}
		tc := TestCase{
			ID:           fmt.Sprintf("q%d", i+1),
			Query:        query,
			BotResponses: make(map[string]string, len(cols.Bots)),
			BotContexts:  make(map[string][]string, len(cols.Bots)),
		}
		if cols.GroundTruth != "" {
			tc.GroundTruth = strings.TrimSpace(row[cols.GroundTruth])
		}
		for _, bot := range cols.Bots {
			tc.BotResponses[bot] = row[botColumnPrefix+bot]
			cell := ""
			if ctxCol, ok := cols.BotContexts[bot]; ok {
				cell = row[ctxCol]
			} else if cols.SharedContext != "" {
				cell = row[cols.SharedContext]
			}
			tc.BotContexts[bot] = ParseContextCell(cell, contextDelimiter)
		}
		cases = append(cases, tc)
	}
	return cases
}
