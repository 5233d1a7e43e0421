package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/biomarker-normalizer/internal/review"
	"github.com/biomarker-normalizer/pkg/biomarker"
)

const (
	defaultCorrectionLimit = 20
	maxCorrectionLimit     = 500
)

// NormalizeExtractionParams defines parameters for normalize_extraction tool
type NormalizeExtractionParams struct {
	Content string `json:"content" jsonschema:"the raw extraction answer, bare or fenced JSON"`
}

// MatchBiomarkerParams defines parameters for match_biomarker tool
type MatchBiomarkerParams struct {
	Name string `json:"name" jsonschema:"the biomarker name as printed on the report"`
}

// MatchBiomarkerResult defines the result structure for match_biomarker tool
type MatchBiomarkerResult struct {
	Name           string                `json:"name"`
	NormalizedName string                `json:"normalized_name"`
	CanonicalName  string                `json:"canonical_name,omitempty"`
	BodySystem     biomarker.BodySystem  `json:"body_system"`
	Match          biomarker.MatchResult `json:"match"`
}

// ClassifyValueParams defines parameters for classify_value tool
type ClassifyValueParams struct {
	Value        float64  `json:"value" jsonschema:"the measured value"`
	ReferenceMin *float64 `json:"reference_min,omitempty" jsonschema:"lower reference bound"`
	ReferenceMax *float64 `json:"reference_max,omitempty" jsonschema:"upper reference bound; values of 900 or more mean no upper bound"`
}

// ListTaxonomyParams defines parameters for list_taxonomy tool
type ListTaxonomyParams struct {
	BodySystem string `json:"body_system,omitempty" jsonschema:"restrict the listing to one body system"`
}

// TaxonomyGroup is one body system and its canonical names
type TaxonomyGroup struct {
	BodySystem biomarker.BodySystem `json:"body_system"`
	Biomarkers []string             `json:"biomarkers"`
}

// ListCorrectionsParams defines parameters for list_corrections tool
type ListCorrectionsParams struct {
	TestResultID string `json:"test_result_id,omitempty" jsonschema:"only corrections of this test result"`
	Limit        int    `json:"limit,omitempty" jsonschema:"maximum number of corrections, default 20"`
	Offset       int    `json:"offset,omitempty"`
}

// ListCorrectionsResult defines the result structure for list_corrections tool
type ListCorrectionsResult struct {
	Corrections []*review.Correction `json:"corrections"`
	Total       int64                `json:"total"`
	Agreement   float64              `json:"agreement"`
}

// handleNormalizeExtraction handles the normalize_extraction tool invocation
func (s *Server) handleNormalizeExtraction(ctx context.Context, req *mcp.CallToolRequest, params NormalizeExtractionParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "normalize_extraction").Info("Tool invoked")

	if strings.TrimSpace(params.Content) == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("content is required")), nil, nil
	}

	outcome, err := s.normalizer.Normalize(params.Content)
	if err != nil {
		return s.createErrorResult("Normalization failed", err), nil, nil
	}

	return s.jsonResult(outcome)
}

// handleMatchBiomarker handles the match_biomarker tool invocation
func (s *Server) handleMatchBiomarker(ctx context.Context, req *mcp.CallToolRequest, params MatchBiomarkerParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "match_biomarker").Info("Tool invoked")

	if strings.TrimSpace(params.Name) == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("name is required")), nil, nil
	}

	match := s.matcher.FindBestMatch(params.Name)
	entry := biomarker.ValidatedEntry{Name: params.Name, Match: match}

	// Body system resolves exactly as it does for a pipeline entry
	return s.jsonResult(MatchBiomarkerResult{
		Name:           params.Name,
		NormalizedName: biomarker.Normalize(params.Name),
		CanonicalName:  match.MatchedName,
		BodySystem:     s.matcher.Taxonomy().BodySystemFor(entry.CanonicalName()),
		Match:          match,
	})
}

// handleClassifyValue handles the classify_value tool invocation
func (s *Server) handleClassifyValue(ctx context.Context, req *mcp.CallToolRequest, params ClassifyValueParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "classify_value").Info("Tool invoked")

	return s.jsonResult(biomarker.Classify(params.Value, params.ReferenceMin, params.ReferenceMax))
}

// handleListTaxonomy handles the list_taxonomy tool invocation
func (s *Server) handleListTaxonomy(ctx context.Context, req *mcp.CallToolRequest, params ListTaxonomyParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "list_taxonomy").Info("Tool invoked")

	var only biomarker.BodySystem
	if params.BodySystem != "" {
		only = biomarker.BodySystem(params.BodySystem)
		if !only.IsValid() {
			return s.createErrorResult("Unknown body system", fmt.Errorf("%q", params.BodySystem)), nil, nil
		}
	}

	groups := s.matcher.Taxonomy().ByBodySystem()
	out := make([]TaxonomyGroup, 0, len(groups))
	for _, system := range biomarker.BodySystems() {
		if only != "" && system != only {
			continue
		}
		if names, ok := groups[system]; ok {
			out = append(out, TaxonomyGroup{BodySystem: system, Biomarkers: names})
		}
	}

	return s.jsonResult(out)
}

// handleListCorrections handles the list_corrections tool invocation
func (s *Server) handleListCorrections(ctx context.Context, req *mcp.CallToolRequest, params ListCorrectionsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "list_corrections").Info("Tool invoked")

	var (
		corrections []*review.Correction
		total       int64
		err         error
	)
	if params.TestResultID != "" {
		corrections, err = s.corrections.ListByTestResult(ctx, params.TestResultID)
		total = int64(len(corrections))
	} else {
		limit := params.Limit
		if limit <= 0 {
			limit = defaultCorrectionLimit
		}
		if limit > maxCorrectionLimit {
			limit = maxCorrectionLimit
		}
		offset := params.Offset
		if offset < 0 {
			offset = 0
		}
		corrections, err = s.corrections.List(ctx, limit, offset)
		if err == nil {
			total, err = s.corrections.Count(ctx)
		}
	}
	if err != nil {
		return s.createErrorResult("Failed to list corrections", err), nil, nil
	}
	if corrections == nil {
		corrections = []*review.Correction{}
	}

	return s.jsonResult(ListCorrectionsResult{
		Corrections: corrections,
		Total:       total,
		Agreement:   review.Agreement(corrections),
	})
}

// jsonResult wraps v as indented JSON text content
func (s *Server) jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

// createErrorResult creates a standardized error result for tool calls
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
