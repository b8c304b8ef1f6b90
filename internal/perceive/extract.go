package perceive

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/crowdeval/mapseval/internal/model"
)

// Extraction patterns for OCR'd maps screens. OCR output is noisy; every
// pattern miss degrades to absent data, never an error.
var (
	queryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`Showing results for "([^"]+)"`),
		regexp.MustCompile(`Results for ([^\n]+)`),
		regexp.MustCompile(`Search: ([^\n]+)`),
		regexp.MustCompile(`"([^"]+)" - Google Maps`),
	}

	// Location context stays on a single line; OCR newlines end the capture.
	locationPattern = regexp.MustCompile(`(?i)near ([A-Za-z][A-Za-z ,]*)`)

	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^([A-Z][A-Za-z\s&\-'.]+)$`),
		regexp.MustCompile(`([A-Z][A-Za-z\s&\-'.]+)\s+\d+\.\d+★`),
		regexp.MustCompile(`([A-Z][A-Za-z\s&\-'.]+)\s+\(\d+\)`),
	}

	addressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+[A-Za-z]?\s+[A-Za-z\s]+(?:St|Ave|Rd|Blvd|Dr|Ln|Way|Ct|Pl)\.?)`),
		regexp.MustCompile(`([A-Za-z\s]+,\s*[A-Z]{2}\s+\d{5})`),
		regexp.MustCompile(`([A-Za-z\s]+\d{5})`),
	}

	ratingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+\.\d+)★`),
		regexp.MustCompile(`(\d+\.\d+)\s*stars?`),
		regexp.MustCompile(`Rating:\s*(\d+\.\d+)`),
	}

	reviewsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\((\d+)\)`),
		regexp.MustCompile(`(\d+)\s+reviews?`),
		regexp.MustCompile(`(\d+)\s+ratings?`),
	}

	distancePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+\.?\d*\s*mi)\b`),
		regexp.MustCompile(`(\d+\.?\d*\s*km)\b`),
		regexp.MustCompile(`(\d+\s*min\s+drive)`),
	}

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\(\d{3}\)\s*\d{3}-\d{4})`),
		regexp.MustCompile(`(\d{3}-\d{3}-\d{4})`),
	}
)

// searchTypeCues buckets a query into a coarse search type.
var searchTypeCues = []struct {
	cues []string
	t    model.SearchType
}{
	{[]string{"restaurant", "food", "eat", "dine"}, model.SearchTypeRestaurant},
	{[]string{"gas", "station", "fuel"}, model.SearchTypeGasStation},
	{[]string{"hotel", "stay", "accommodation"}, model.SearchTypeHotel},
	{[]string{"shop", "store", "buy"}, model.SearchTypeShopping},
}

// Normalize applies NFKC normalization to OCR output so that fullwidth and
// composed glyph variants compare equal downstream.
func Normalize(text string) string {
	return norm.NFKC.String(text)
}

// ExtractQueryInfo pulls the current search query from screen text. A miss
// yields the "Unknown" query with a general search type.
func ExtractQueryInfo(screenText string) model.QueryInfo {
	text := Normalize(screenText)

	info := model.QueryInfo{Query: "Unknown", SearchType: model.SearchTypeGeneral}

	for _, p := range queryPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			info.Query = strings.TrimSpace(m[1])
			break
		}
	}

	queryLower := strings.ToLower(info.Query)
	for _, bucket := range searchTypeCues {
		for _, cue := range bucket.cues {
			if strings.Contains(queryLower, cue) {
				info.SearchType = bucket.t
				break
			}
		}
		if info.SearchType != model.SearchTypeGeneral {
			break
		}
	}

	if m := locationPattern.FindStringSubmatch(text); m != nil {
		info.Location = strings.TrimSpace(m[1])
	}

	zap.L().Debug("perceive: extracted query",
		zap.String("query", info.Query),
		zap.String("search_type", string(info.SearchType)),
	)

	return info
}

// ExtractMapResults parses the ordered result list from screen text. Lines
// that open a new business name start a new result; following lines fill in
// its details until the next name line.
func ExtractMapResults(screenText string) []model.MapResult {
	text := Normalize(screenText)

	var results []model.MapResult
	var current *model.MapResult

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if name := firstMatch(line, namePatterns); name != "" && len(name) > 3 {
			if current != nil {
				results = append(results, *current)
			}
			current = &model.MapResult{Name: strings.TrimSpace(name), Position: len(results)}
			continue
		}

		if current == nil {
			continue
		}

		if current.Address == "" {
			if addr := firstMatch(line, addressPatterns); addr != "" {
				current.Address = strings.TrimSpace(addr)
			}
		}
		if current.Rating == nil {
			if s := firstMatch(line, ratingPatterns); s != "" {
				if v, err := strconv.ParseFloat(s, 64); err == nil {
					current.Rating = &v
				}
			}
		}
		if current.ReviewsCount == nil {
			if s := firstMatch(line, reviewsPatterns); s != "" {
				if v, err := strconv.Atoi(s); err == nil {
					current.ReviewsCount = &v
				}
			}
		}
		if current.Distance == "" {
			current.Distance = firstMatch(line, distancePatterns)
		}
		if current.Phone == "" {
			current.Phone = firstMatch(line, phonePatterns)
		}
	}

	if current != nil {
		results = append(results, *current)
	}

	// Drop placeholder entries the name patterns could not anchor.
	valid := results[:0]
	for _, r := range results {
		if r.Name != "" && !strings.EqualFold(r.Name, "unknown") {
			valid = append(valid, r)
		}
	}

	zap.L().Debug("perceive: extracted results", zap.Int("count", len(valid)))
	return valid
}

func firstMatch(line string, patterns []*regexp.Regexp) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(line); m != nil {
			if len(m) > 1 {
				return m[1]
			}
			return m[0]
		}
	}
	return ""
}

// Observation bundles one perceived screen state.
type Observation struct {
	Query   model.QueryInfo
	Results []model.MapResult
	Raw     string
}

// Observe reads the screen and extracts the query and result list in one
// step.
func Observe(ctx context.Context, reader ScreenReader) (*Observation, error) {
	text, err := reader.ReadScreen(ctx)
	if err != nil {
		return nil, err
	}
	return &Observation{
		Query:   ExtractQueryInfo(text),
		Results: ExtractMapResults(text),
		Raw:     text,
	}, nil
}
