package lookup

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shpitdev/contact-enricher/internal/contact"
	"github.com/shpitdev/contact-enricher/internal/redact"
)

// responseItem is the structured shape both providers ask the model for.
type responseItem struct {
	ID       json.RawMessage `json:"id"`
	City     string          `json:"city"`
	JobTitle string          `json:"job_title"`
}

type responseEnvelope struct {
	Results []responseItem `json:"results"`
}

// BuildPrompt renders the batch lookup instruction.
//
// Keep this prompt public-safe: only the fields needed to identify a person
// are included.
func BuildPrompt(batch []contact.Record) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(`
You are a data enrichment tool. For each person below, use web search to find the city where they currently live or work, and their current job title.

Return ONLY a single JSON object of the form:
{"results": [{"id": <number>, "city": "<City, Country>", "job_title": "<title>"}]}

Rules:
- Include exactly one result per person, using the id given.
- Format city as "City, Country code" (for example "Paris, FR").
- If you cannot determine the city with reasonable confidence, set city to "Not Found".
- If you cannot determine the current job title, set job_title to an empty string.
- Do not include extra keys or commentary.
`))
	b.WriteString("\n\nPeople:\n")
	for _, r := range batch {
		fmt.Fprintf(&b, "- id=%d name=%q", r.ID, r.FullName())
		if t := strings.TrimSpace(r.JobTitle); t != "" {
			fmt.Fprintf(&b, " title=%q", t)
		}
		if c := strings.TrimSpace(r.Company); c != "" {
			fmt.Fprintf(&b, " company=%q", c)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ParseResponse converts model output into per-record outcomes.
//
// Unparseable text becomes a ServiceError for the whole batch; records the model
// skipped become ServiceError("no result").
func ParseResponse(text string, batch []contact.Record) Results {
	items, err := decodeItems(cleanJSONBlock(text))
	if err != nil {
		return FailAll(batch, ServiceError, "malformed response: "+redact.Truncate(err.Error(), 200))
	}

	res := make(Results, len(items))
	for _, it := range items {
		id, ok := parseID(it.ID)
		if !ok {
			continue
		}
		if _, seen := res[id]; seen {
			continue
		}
		city := strings.TrimSpace(it.City)
		if city == "" || IsNotFoundToken(city) {
			res[id] = NotFound()
			continue
		}
		res[id] = Found(city, it.JobTitle)
	}
	return Complete(batch, res)
}

func decodeItems(text string) ([]responseItem, error) {
	if strings.HasPrefix(text, "[") {
		var items []responseItem
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var env responseEnvelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, err
	}
	return env.Results, nil
}

// parseID accepts both numeric and quoted-numeric ids.
func parseID(raw json.RawMessage) (int, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0, false
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return id, true
}

// cleanJSONBlock removes markdown code block wrappers from JSON.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
