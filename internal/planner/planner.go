package planner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

// Plan is the resumability-filtered run description for one submission.
type Plan struct {
	// Keywords to actually process, in upload order.
	Keywords []string
	// Allowed is the full keyword set, including skipped ones: the
	// orchestrator and dedup path must still recognize them as valid.
	Allowed map[string]struct{}
	// KeywordSource maps every keyword (processed or skipped) to its file.
	KeywordSource map[string]string
	Files         []string

	ResumableMode       bool
	NewKeywordCount     int
	SkippedKeywordCount int
	AllAlreadyScraped   bool
}

// Planner computes which keywords from an upload still need scraping.
type Planner struct {
	items  scrape.ItemStore
	logger *zap.Logger
}

// New constructs a Planner.
func New(items scrape.ItemStore, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{items: items, logger: logger}
}

// Plan checks each keyword against the item store: a keyword with any
// persisted item for the same source file is already scraped and excluded
// from processing. Skipped keywords remain in the allow-list.
func (p *Planner) Plan(
	ctx context.Context,
	keywords []string,
	sources map[string]string,
	files []string,
) (Plan, error) {
	var newKeywords []string
	var skipped []string

	for _, keyword := range keywords {
		sourceFile := sources[keyword]
		if sourceFile == "" {
			sourceFile = "unknown"
		}
		exists, err := p.items.HasKeywordItems(ctx, keyword, sourceFile)
		if err != nil {
			return Plan{}, fmt.Errorf("check keyword %q: %w", keyword, err)
		}
		if exists {
			skipped = append(skipped, keyword)
		} else {
			newKeywords = append(newKeywords, keyword)
		}
	}

	allowed := make(map[string]struct{}, len(keywords))
	for _, keyword := range keywords {
		allowed[keyword] = struct{}{}
	}

	plan := Plan{
		Allowed:       allowed,
		KeywordSource: sources,
		Files:         files,
	}
	if len(skipped) > 0 {
		plan.ResumableMode = true
		plan.Keywords = newKeywords
		plan.NewKeywordCount = len(newKeywords)
		plan.SkippedKeywordCount = len(skipped)
		plan.AllAlreadyScraped = len(newKeywords) == 0
		p.logger.Info("resumable mode active",
			zap.Int("new_keywords", len(newKeywords)),
			zap.Int("skipped_keywords", len(skipped)),
		)
	} else {
		plan.Keywords = keywords
		plan.NewKeywordCount = len(keywords)
	}
	return plan, nil
}
