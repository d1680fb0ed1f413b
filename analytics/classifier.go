// Package analytics holds the rule-based message classifier used to route incoming
// text, and aggregate task analytics computed over the store.
package analytics

import (
	"regexp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Intent is a coarse purpose detected in a message. A message may carry several.
type Intent string

const (
	IntentTaskCreation Intent = "task_creation"
	IntentTaskStatus   Intent = "task_status"
	IntentTaskUpdate   Intent = "task_update"
	IntentGeneralQuery Intent = "general_query"
)

// DefaultAgents are the agent names recognized when no list is configured.
var DefaultAgents = []string{"TaskOrchestrator", "WebAutomation", "DesktopInteraction", "VisionAnalysis", "Research"}

var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentTaskCreation, []string{"create", "make", "start", "begin", "initiate", "need to", "want to", "would like to", "can you", "please", "help"}},
	{IntentTaskStatus, []string{"status", "progress", "update", "how is", "what's happening", "where are we", "check", "track", "monitor"}},
	{IntentTaskUpdate, []string{"update", "change", "modify", "edit", "revise", "adjust", "set", "mark as"}},
}

var (
	positiveWords = []string{"good", "great", "excellent", "amazing", "wonderful", "fantastic", "perfect", "thanks", "thank you", "pleased", "happy", "successful", "success", "well done"}
	negativeWords = []string{"bad", "poor", "terrible", "awful", "horrible", "failed", "failure", "error", "problem", "issue", "wrong", "broken", "not working", "disappointed"}
	urgentWords   = []string{"urgent", "asap", "emergency", "immediately", "critical", "important", "priority", "rush"}
)

var (
	taskIDPattern = regexp.MustCompile(`task_\d{8}_\d{6}(?:_\d{6})?(?:_[a-f0-9]{8})?`)
	urlPattern    = regexp.MustCompile(`https?://(?:[-\w.]|%[\da-fA-F]{2})+[^\s]*`)
	datePatterns  = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`), // YYYY-MM-DD
		regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\b`), // MM/DD/YYYY
		regexp.MustCompile(`\b\d{2}-\d{2}-\d{4}\b`), // DD-MM-YYYY
	}
	// Patterns with a capture group contribute the group; the rest contribute the match.
	priorityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`priority[: ]*(\d)`),
		regexp.MustCompile(`\bp(\d)\b`),
		regexp.MustCompile(`urgent`),
		regexp.MustCompile(`high priority`),
		regexp.MustCompile(`low priority`),
	}
)

// Entities are the structured references found in a message. Every field is a
// non-nil slice.
type Entities struct {
	TaskIDs    []string `json:"task_ids"`
	AgentNames []string `json:"agent_names"`
	Dates      []string `json:"dates"`
	Priorities []string `json:"priorities"`
	URLs       []string `json:"urls"`
}

// SentimentMetrics are the raw keyword hit counts behind a Sentiment.
type SentimentMetrics struct {
	PositiveWords int `json:"positive_words"`
	NegativeWords int `json:"negative_words"`
	UrgentWords   int `json:"urgent_words"`
}

// Sentiment is the keyword-majority tone of a message.
type Sentiment struct {
	Sentiment string           `json:"sentiment"` // positive, negative or neutral
	Urgency   string           `json:"urgency"`   // urgent or normal
	Metrics   SentimentMetrics `json:"metrics"`
}

// Classifier extracts intents, entities and sentiment from free text. It holds no
// mutable state and is safe for concurrent use.
type Classifier struct {
	agents []string
}

// NewClassifier returns a Classifier recognizing the given agent names, or
// DefaultAgents when none are given.
func NewClassifier(agents ...string) *Classifier {
	if len(agents) == 0 {
		agents = DefaultAgents
	}
	return &Classifier{agents: slices.Clone(agents)}
}

// Agents returns the recognized agent names.
func (c *Classifier) Agents() []string { return slices.Clone(c.agents) }

func fold(s string) string { return cases.Fold().String(s) }

// AnalyzeIntent returns every intent whose keywords occur in text, in a fixed order,
// or general_query when none do.
func (c *Classifier) AnalyzeIntent(text string) []Intent {
	folded := fold(text)
	var intents []Intent
	for _, set := range intentKeywords {
		if countHits(folded, set.keywords) > 0 {
			intents = append(intents, set.intent)
		}
	}
	if len(intents) == 0 {
		intents = append(intents, IntentGeneralQuery)
	}
	return intents
}

// ExtractEntities applies the per-category patterns to text.
func (c *Classifier) ExtractEntities(text string) Entities {
	e := Entities{
		TaskIDs:    dedupe(taskIDPattern.FindAllString(text, -1)),
		AgentNames: []string{},
		Dates:      []string{},
		Priorities: []string{},
		URLs:       orEmpty(urlPattern.FindAllString(text, -1)),
	}
	for _, word := range strings.Fields(text) {
		word = strings.TrimFunc(word, unicode.IsPunct)
		if slices.Contains(c.agents, word) && !slices.Contains(e.AgentNames, word) {
			e.AgentNames = append(e.AgentNames, word)
		}
	}
	for _, re := range datePatterns {
		e.Dates = append(e.Dates, re.FindAllString(text, -1)...)
	}
	lower := fold(text)
	for _, re := range priorityPatterns {
		for _, m := range re.FindAllStringSubmatch(lower, -1) {
			if len(m) > 1 {
				e.Priorities = append(e.Priorities, m[1])
			} else {
				e.Priorities = append(e.Priorities, m[0])
			}
		}
	}
	return e
}

// AnalyzeSentiment counts keyword hits. The majority of positive versus negative hits
// decides the label; a tie is neutral. Any urgent hit marks the message urgent.
func (c *Classifier) AnalyzeSentiment(text string) Sentiment {
	folded := fold(text)
	m := SentimentMetrics{
		PositiveWords: countHits(folded, positiveWords),
		NegativeWords: countHits(folded, negativeWords),
		UrgentWords:   countHits(folded, urgentWords),
	}
	s := Sentiment{Sentiment: "neutral", Urgency: "normal", Metrics: m}
	switch {
	case m.PositiveWords > m.NegativeWords:
		s.Sentiment = "positive"
	case m.NegativeWords > m.PositiveWords:
		s.Sentiment = "negative"
	}
	if m.UrgentWords > 0 {
		s.Urgency = "urgent"
	}
	return s
}

// countHits returns how many distinct keywords occur as substrings of text.
func countHits(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}

func dedupe(in []string) []string {
	out := []string{}
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
