package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"diligence-engine/internal/models"
)

// ResultIndex mirrors stored results into Elasticsearch so that later
// analyses can look up comparable projects by sector and chain.
type ResultIndex struct {
	client *elasticsearch.Client
	index  string
}

func NewResultIndex(client *elasticsearch.Client, index string) *ResultIndex {
	return &ResultIndex{client: client, index: index}
}

type indexedResult struct {
	ResultID     string              `json:"resultId"`
	SubjectID    string              `json:"subjectId"`
	ProjectName  string              `json:"projectName"`
	Sector       string              `json:"sector"`
	Chain        string              `json:"chain"`
	Score        int                 `json:"score"`
	RiskScore    int                 `json:"riskScore"`
	Rating       models.Rating       `json:"rating"`
	ProviderUsed models.ProviderUsed `json:"providerUsed"`
	GeneratedAt  time.Time           `json:"generatedAt"`
}

// IndexResult stores a search document for res. Results without a project
// name are not indexed since they cannot serve as comparables.
func (x *ResultIndex) IndexResult(ctx context.Context, res *models.AnalysisResult, sub *models.Submission) error {
	if sub == nil || strings.TrimSpace(sub.ProjectName) == "" {
		return nil
	}
	doc := indexedResult{
		ResultID:     res.ID,
		SubjectID:    res.SubjectID,
		ProjectName:  sub.ProjectName,
		Sector:       strings.ToLower(strings.TrimSpace(sub.Sector)),
		Chain:        strings.ToLower(strings.TrimSpace(sub.Chain)),
		Score:        res.Score,
		RiskScore:    res.RiskScore,
		Rating:       res.Rating,
		ProviderUsed: res.ProviderUsed,
		GeneratedAt:  res.GeneratedAt,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      x.index,
		DocumentID: res.ID,
		Body:       bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, x.client)
	if err != nil {
		return fmt.Errorf("index result %s: %w", res.ID, err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("index result %s failed: %s", res.ID, resp.String())
	}
	return nil
}

// Comparables returns the best scored projects in the same sector, ranking
// projects on the same chain higher. Results of subjectID are excluded.
func (x *ResultIndex) Comparables(ctx context.Context, subjectID, sector, chain string, limit int) ([]models.ComparableProject, error) {
	sector = strings.ToLower(strings.TrimSpace(sector))
	chain = strings.ToLower(strings.TrimSpace(chain))
	if sector == "" || limit <= 0 {
		return []models.ComparableProject{}, nil
	}

	boolQuery := map[string]interface{}{
		"must": []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"sector.keyword": sector}},
		},
	}
	if subjectID != "" {
		boolQuery["must_not"] = []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"subjectId.keyword": subjectID}},
		}
	}
	if chain != "" {
		boolQuery["should"] = []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"chain.keyword": map[string]interface{}{"value": chain, "boost": 2}}},
		}
	}
	queryBody := map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"sort": []interface{}{
			"_score",
			map[string]interface{}{"score": map[string]interface{}{"order": "desc"}},
		},
		"size": limit,
	}

	body, _ := json.Marshal(queryBody)
	req := esapi.SearchRequest{
		Index: []string{x.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return nil, fmt.Errorf("comparables search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("comparables search failed: %s", res.String())
	}

	var r struct {
		Hits struct {
			Hits []struct {
				Source indexedResult `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode comparables: %w", err)
	}

	out := make([]models.ComparableProject, 0, len(r.Hits.Hits))
	seen := make(map[string]bool)
	for _, hit := range r.Hits.Hits {
		src := hit.Source
		if src.ProjectName == "" || seen[src.ProjectName] || (subjectID != "" && src.SubjectID == subjectID) {
			continue
		}
		seen[src.ProjectName] = true

		similarity := "Same sector (" + src.Sector + ")"
		if chain != "" && src.Chain == chain {
			similarity = "Same sector and chain (" + src.Sector + ", " + src.Chain + ")"
		}
		out = append(out, models.ComparableProject{
			Project:        src.ProjectName,
			Similarity:     similarity,
			MarketPosition: marketPosition(src.Rating, src.Score),
		})
	}
	return out, nil
}

func marketPosition(rating models.Rating, score int) string {
	switch rating {
	case models.RatingHigh:
		return fmt.Sprintf("Strong (previously scored %d)", score)
	case models.RatingNormal:
		return fmt.Sprintf("Established (previously scored %d)", score)
	case models.RatingLow:
		return fmt.Sprintf("Emerging (previously scored %d)", score)
	default:
		return fmt.Sprintf("Unproven (previously scored %d)", score)
	}
}
