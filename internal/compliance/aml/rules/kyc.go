package rules

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
)

// DefaultHighRiskCountries is used when no list is configured
var DefaultHighRiskCountries = []string{"Iran", "North Korea", "Syria", "Yemen"}

const defaultWatchlistSimilarity = 0.85

var nonNameChars = regexp.MustCompile(`[^a-z0-9\s]`)

// KYCFinding lists every reason a user failed the KYC check
type KYCFinding struct {
	UserID  uuid.UUID              `json:"user_id"`
	Reasons []string               `json:"reasons"`
	Matches []store.WatchlistEntry `json:"matches,omitempty"`
}

func (f *KYCFinding) AlertType() store.AlertType { return store.AlertKYCFlag }

func (f *KYCFinding) Message() string { return strings.Join(f.Reasons, "; ") }

// KYCChecker screens users against high-risk jurisdictions and the watchlist
type KYCChecker struct {
	highRisk   map[string]string
	similarity float64
}

// NewKYCChecker builds a checker; similarity is the minimum normalized
// levenshtein similarity for a fuzzy watchlist hit
func NewKYCChecker(highRiskCountries []string, similarity float64) *KYCChecker {
	if len(highRiskCountries) == 0 {
		highRiskCountries = DefaultHighRiskCountries
	}
	if similarity <= 0 || similarity > 1 {
		similarity = defaultWatchlistSimilarity
	}
	hr := make(map[string]string, len(highRiskCountries))
	for _, c := range highRiskCountries {
		hr[strings.ToLower(strings.TrimSpace(c))] = c
	}
	return &KYCChecker{highRisk: hr, similarity: similarity}
}

// Check returns nil when the user is clean
func (c *KYCChecker) Check(user store.User, watchlist []store.WatchlistEntry) *KYCFinding {
	finding := &KYCFinding{UserID: user.ID}

	if country, ok := c.highRisk[strings.ToLower(strings.TrimSpace(user.Country))]; ok {
		finding.Reasons = append(finding.Reasons, fmt.Sprintf("from high-risk country: %s", country))
	}

	name := normalizeName(user.FullName)
	if name != "" {
		for _, entry := range watchlist {
			if c.matches(name, normalizeName(entry.Name)) {
				finding.Matches = append(finding.Matches, entry)
			}
		}
	}
	if len(finding.Matches) > 0 {
		names := make([]string, 0, len(finding.Matches))
		for _, m := range finding.Matches {
			names = append(names, m.Name)
		}
		finding.Reasons = append(finding.Reasons, fmt.Sprintf("matches watchlist: %s", strings.Join(names, ", ")))
	}

	if len(finding.Reasons) == 0 {
		return nil
	}
	return finding
}

// matches treats a watchlist entry containing the user's name as a hit, and
// otherwise falls back to edit-distance similarity
func (c *KYCChecker) matches(name, entry string) bool {
	if entry == "" {
		return false
	}
	if strings.Contains(entry, name) {
		return true
	}
	return Similarity(name, entry) >= c.similarity
}

// Similarity is 1 - levenshtein distance / longer length
func Similarity(a, b string) float64 {
	maxLen := math.Max(float64(len([]rune(a))), float64(len([]rune(b))))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein.ComputeDistance(a, b))/maxLen
}

func normalizeName(name string) string {
	name = nonNameChars.ReplaceAllString(strings.ToLower(name), "")
	return strings.Join(strings.Fields(name), " ")
}
