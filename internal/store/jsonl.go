package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// maxJSONLLine bounds a single article record.
const maxJSONLLine = 16 * 1024 * 1024

// ReadArticlesJSONL decodes one Article per line. Blank lines are skipped;
// a malformed line or an article without an ID fails with its line number.
func ReadArticlesJSONL(r io.Reader) ([]Article, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLLine)

	var articles []Article
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var a Article
		if err := json.Unmarshal([]byte(text), &a); err != nil {
			return nil, fmt.Errorf("line %d: decode article: %w", line, err)
		}
		if a.ID == "" {
			return nil, fmt.Errorf("line %d: article id is required", line)
		}
		articles = append(articles, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read articles: %w", err)
	}
	return articles, nil
}
