// internal/pattern/pattern.go
// Package pattern derives recurring patterns from captured memories by
// clustering them on shared significant terms. Patterns that accumulate
// enough evidence get promoted into the patterns namespace as memories
// of their own.
package pattern

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/MereWhiplash/gitmem/internal/capture"
	"github.com/MereWhiplash/gitmem/internal/config"
	"github.com/MereWhiplash/gitmem/internal/index"
	"github.com/MereWhiplash/gitmem/internal/types"
)

const (
	// minTermLen filters trivially short tokens.
	minTermLen = 3

	// minOccurrences is how many memories must share a term before it
	// seeds a cluster.
	minOccurrences = 2

	// validateConfidence and promoteConfidence gate status transitions.
	validateConfidence = 0.6
	promoteConfidence  = 0.7

	// promoteEvidence is the minimum cluster size for promotion.
	promoteEvidence = 3
)

// sourceNamespaces are mined for patterns. Progress is excluded: it is
// too chatty and recurs by construction.
var sourceNamespaces = []types.Namespace{
	types.NSLearnings, types.NSRetrospective, types.NSReviews,
	types.NSBlockers, types.NSDecisions,
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "was": true, "are": true, "were": true,
	"have": true, "has": true, "had": true, "not": true, "but": true,
	"when": true, "then": true, "than": true, "into": true, "out": true,
	"our": true, "its": true, "it's": true, "can": true, "could": true,
	"should": true, "would": true, "will": true, "all": true, "also": true,
	"been": true, "being": true, "because": true, "after": true,
	"before": true, "which": true, "while": true, "where": true,
	"there": true, "their": true, "them": true, "they": true, "you": true,
	"your": true, "use": true, "used": true, "using": true, "need": true,
	"needs": true, "needed": true, "now": true, "new": true, "one": true,
	"two": true, "more": true, "some": true, "only": true, "just": true,
	"about": true, "over": true, "under": true, "via": true, "per": true,
	"still": true, "very": true, "each": true, "other": true, "same": true,
	"make": true, "made": true, "making": true, "get": true, "got": true,
	"getting": true, "how": true, "what": true, "why": true, "who": true,
	"does": true, "did": true, "done": true, "doing": true,
}

// Engine mines and manages patterns.
type Engine struct {
	idx    index.Store
	cap    *capture.Engine
	cfg    config.Config
	logger *log.Logger
}

// New builds a pattern engine. cap may be nil for mine-only use; logger
// may be nil.
func New(idx index.Store, cap *capture.Engine, cfg config.Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{idx: idx, cap: cap, cfg: cfg, logger: logger}
}

// Mine clusters a repo's memories on shared terms and returns candidate
// patterns, best first. Nothing is written.
func (e *Engine) Mine(ctx context.Context, repoPath string, limit int) ([]types.Pattern, error) {
	if limit <= 0 {
		limit = 10
	}

	var mems []types.Memory
	for _, ns := range sourceNamespaces {
		batch, err := e.idx.List(ctx, types.Filters{RepoPath: repoPath, Namespace: ns}, 500)
		if err != nil {
			return nil, err
		}
		mems = append(mems, batch...)
	}
	if len(mems) < minOccurrences {
		return nil, nil
	}

	// Term to the set of memories mentioning it.
	termMembers := map[string]map[string]bool{}
	memTerms := map[string]map[string]bool{}
	byID := map[string]types.Memory{}
	for _, m := range mems {
		byID[m.ID] = m
		terms := ExtractTerms(m.Summary + " " + m.Content + " " + strings.Join(m.Tags, " "))
		memTerms[m.ID] = terms
		for t := range terms {
			if termMembers[t] == nil {
				termMembers[t] = map[string]bool{}
			}
			termMembers[t][m.ID] = true
		}
	}

	clusters := clusterByOverlap(termMembers)

	var patterns []types.Pattern
	for _, c := range clusters {
		if len(c.members) < minOccurrences {
			continue
		}
		evidence := make([]string, 0, len(c.members))
		for id := range c.members {
			evidence = append(evidence, id)
		}
		sort.Strings(evidence)

		confidence := clusterConfidence(c, memTerms)
		ptype := classify(evidence, byID)

		status := types.PatternCandidate
		if confidence >= promoteConfidence && len(evidence) >= promoteEvidence {
			status = types.PatternPromoted
		} else if confidence >= validateConfidence {
			status = types.PatternValidated
		}

		patterns = append(patterns, types.Pattern{
			Name:       strings.Join(c.terms, "-"),
			Type:       ptype,
			Confidence: confidence,
			Status:     status,
			Evidence:   evidence,
			Terms:      c.terms,
			Summary:    patternSummary(ptype, c.terms, len(evidence)),
		})
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].Confidence != patterns[j].Confidence {
			return patterns[i].Confidence > patterns[j].Confidence
		}
		return len(patterns[i].Evidence) > len(patterns[j].Evidence)
	})
	if len(patterns) > limit {
		patterns = patterns[:limit]
	}
	return patterns, nil
}

// Promote captures a pattern as a memory in the patterns namespace,
// linking its evidence. Only validated or promoted patterns qualify.
func (e *Engine) Promote(ctx context.Context, p types.Pattern, spec string) (types.CaptureResult, error) {
	if p.Status == types.PatternCandidate || p.Status == types.PatternDemoted {
		return types.CaptureResult{}, types.Validation("pattern",
			fmt.Sprintf("pattern %q is %s; only validated patterns can be promoted", p.Name, p.Status),
			"gather more evidence and re-mine")
	}
	if e.cap == nil {
		return types.CaptureResult{}, fmt.Errorf("pattern engine has no capture engine")
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Pattern: %s\n", p.Name)
	fmt.Fprintf(&body, "Type: %s\n", p.Type)
	fmt.Fprintf(&body, "Confidence: %.2f\n", p.Confidence)
	fmt.Fprintf(&body, "Terms: %s\n\n", strings.Join(p.Terms, ", "))
	body.WriteString("Evidence:\n")
	for _, id := range p.Evidence {
		fmt.Fprintf(&body, "- %s\n", id)
	}

	return e.cap.Capture(ctx, capture.Request{
		Namespace: types.NSPatterns,
		Summary:   p.Summary,
		Content:   body.String(),
		Spec:      spec,
		Tags:      append([]string{"pattern", string(p.Type)}, p.Terms...),
		RelatesTo: p.Evidence,
	})
}

// Demote marks a previously promoted pattern memory as resolved so it
// stops surfacing in recall.
func (e *Engine) Demote(ctx context.Context, patternID string) error {
	m, err := e.idx.Get(ctx, patternID)
	if err != nil {
		return err
	}
	if m.Namespace != types.NSPatterns {
		return types.Validation("id", fmt.Sprintf("%s is not a pattern memory", patternID),
			"pass the id of a patterns-namespace memory")
	}
	return e.idx.UpdateStatus(ctx, patternID, types.StatusResolved)
}

// ExtractTerms tokenizes text into the significant lowercase terms used
// for clustering.
func ExtractTerms(text string) map[string]bool {
	terms := map[string]bool{}
	for _, raw := range strings.Fields(strings.ToLower(text)) {
		t := strings.Trim(raw, ".,!?;:\"'`()[]{}<>*#-_/\\")
		if len(t) < minTermLen || stopWords[t] {
			continue
		}
		if isNumeric(t) {
			continue
		}
		terms[t] = true
	}
	return terms
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type cluster struct {
	terms   []string
	members map[string]bool
}

// clusterByOverlap merges term groups whose member sets substantially
// overlap, so "timeout" and "deadline" memories that co-occur collapse
// into one pattern instead of two.
func clusterByOverlap(termMembers map[string]map[string]bool) []cluster {
	terms := make([]string, 0, len(termMembers))
	for t, members := range termMembers {
		if len(members) >= minOccurrences {
			terms = append(terms, t)
		}
	}
	sort.Strings(terms)

	var clusters []cluster
	for _, t := range terms {
		members := termMembers[t]
		merged := false
		for i := range clusters {
			if overlap(clusters[i].members, members) >= 0.5 {
				clusters[i].terms = append(clusters[i].terms, t)
				for id := range members {
					clusters[i].members[id] = true
				}
				merged = true
				break
			}
		}
		if !merged {
			m := make(map[string]bool, len(members))
			for id := range members {
				m[id] = true
			}
			clusters = append(clusters, cluster{terms: []string{t}, members: m})
		}
	}
	return clusters
}

// overlap is |a ∩ b| / min(|a|, |b|).
func overlap(a, b map[string]bool) float64 {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	if len(small) == 0 {
		return 0
	}
	shared := 0
	for id := range small {
		if large[id] {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

// clusterConfidence blends evidence volume with coherence: how much of
// each member's vocabulary the cluster terms cover.
func clusterConfidence(c cluster, memTerms map[string]map[string]bool) float64 {
	volume := float64(len(c.members)) / float64(len(c.members)+2)

	var coherence float64
	for id := range c.members {
		terms := memTerms[id]
		if len(terms) == 0 {
			continue
		}
		shared := 0
		for _, t := range c.terms {
			if terms[t] {
				shared++
			}
		}
		frac := float64(shared) / float64(len(c.terms))
		coherence += frac
	}
	coherence /= float64(len(c.members))

	return volume*0.6 + coherence*0.4
}

// classify derives the pattern type from where its evidence lives.
func classify(evidence []string, byID map[string]types.Memory) types.PatternType {
	counts := map[types.Namespace]int{}
	for _, id := range evidence {
		counts[byID[id].Namespace]++
	}

	best := types.Namespace("")
	bestN := 0
	for ns, n := range counts {
		if n > bestN {
			best, bestN = ns, n
		}
	}

	switch best {
	case types.NSBlockers:
		return types.PatternAnti
	case types.NSDecisions:
		return types.PatternDecision
	case types.NSRetrospective:
		return types.PatternWorkflow
	default:
		return types.PatternSuccess
	}
}

func patternSummary(t types.PatternType, terms []string, evidence int) string {
	kind := map[types.PatternType]string{
		types.PatternSuccess:  "Recurring approach",
		types.PatternAnti:     "Recurring problem",
		types.PatternWorkflow: "Recurring workflow",
		types.PatternDecision: "Recurring decision theme",
	}[t]
	head := terms
	if len(head) > 4 {
		head = head[:4]
	}
	return fmt.Sprintf("%s: %s (%d occurrences)", kind, strings.Join(head, ", "), evidence)
}
