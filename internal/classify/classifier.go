// Package classify scores pages against a fixed topic taxonomy.
package classify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/metascan/crawler/internal/crawl"
)

// Config tunes classification output.
type Config struct {
	MinConfidence float64
	MaxTopics     int
}

// urlBonusConfidence is assigned to a topic matched only by URL pattern;
// urlBonusBoost is added when content and URL agree.
const (
	urlBonusConfidence = 0.7
	urlBonusBoost      = 0.2
	maxTopicKeywords   = 5
)

// Classifier is pure and side-effect-free: identical input always yields an
// identical topic list.
type Classifier struct {
	cfg      Config
	topics   []Topic
	patterns map[string]*regexp.Regexp
}

// New compiles the taxonomy's keyword patterns once up front.
func New(cfg Config, taxonomy []Topic) *Classifier {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.5
	}
	if cfg.MaxTopics <= 0 {
		cfg.MaxTopics = 10
	}
	if taxonomy == nil {
		taxonomy = DefaultTaxonomy()
	}
	patterns := make(map[string]*regexp.Regexp, len(taxonomy))
	for _, topic := range taxonomy {
		quoted := make([]string, len(topic.Keywords))
		for i, kw := range topic.Keywords {
			quoted[i] = regexp.QuoteMeta(strings.ToLower(kw))
		}
		patterns[topic.Name] = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return &Classifier{cfg: cfg, topics: taxonomy, patterns: patterns}
}

// Classify scores meta against the taxonomy, blending keyword overlap from
// title/description/keywords with a URL-pattern bonus for pageURL. Results
// are filtered by the confidence floor, sorted descending and truncated.
func (c *Classifier) Classify(pageURL string, meta *crawl.PageMetadata) []crawl.TopicScore {
	text := strings.ToLower(strings.Join([]string{
		meta.Title,
		meta.Description,
		strings.Join(meta.Keywords, " "),
	}, " "))
	wordCount := len(strings.Fields(text))
	urlLower := strings.ToLower(pageURL)

	scores := make(map[string]crawl.TopicScore)
	for _, topic := range c.topics {
		if wordCount == 0 {
			break
		}
		matches := c.patterns[topic.Name].FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		unique := make(map[string]int, len(matches))
		for _, m := range matches {
			unique[m]++
		}

		base := float64(len(unique)) / float64(len(topic.Keywords))
		frequency := float64(len(matches)) / float64(wordCount) * 100
		if frequency > 0.5 {
			frequency = 0.5
		}
		diversity := float64(len(unique)) / 10
		if diversity > 0.3 {
			diversity = 0.3
		}
		confidence := base + frequency + diversity
		if confidence > 1 {
			confidence = 1
		}
		scores[topic.Name] = crawl.TopicScore{
			Topic:      topic.Name,
			Confidence: confidence,
			Keywords:   topKeywords(unique),
		}
	}

	// URL heuristics: a pattern hit confirms a content match or stands on
	// its own with medium confidence.
	for _, topic := range c.topics {
		pattern := matchURLPattern(urlLower, topic.URLPatterns)
		if pattern == "" {
			continue
		}
		if existing, ok := scores[topic.Name]; ok {
			existing.Confidence += urlBonusBoost
			if existing.Confidence > 1 {
				existing.Confidence = 1
			}
			scores[topic.Name] = existing
		} else {
			scores[topic.Name] = crawl.TopicScore{
				Topic:      topic.Name,
				Confidence: urlBonusConfidence,
				Keywords:   []string{strings.Trim(pattern, "/")},
			}
		}
	}

	results := make([]crawl.TopicScore, 0, len(scores))
	for _, score := range scores {
		if score.Confidence >= c.cfg.MinConfidence {
			results = append(results, score)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		return results[i].Topic < results[j].Topic
	})
	if len(results) > c.cfg.MaxTopics {
		results = results[:c.cfg.MaxTopics]
	}
	return results
}

func matchURLPattern(urlLower string, patterns []string) string {
	for _, p := range patterns {
		if strings.Contains(urlLower, p) {
			return p
		}
	}
	return ""
}

// topKeywords returns the most frequent contributing keywords, ties broken
// alphabetically so output order is stable.
func topKeywords(counts map[string]int) []string {
	keywords := make([]string, 0, len(counts))
	for kw := range counts {
		keywords = append(keywords, kw)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > maxTopicKeywords {
		keywords = keywords[:maxTopicKeywords]
	}
	return keywords
}
