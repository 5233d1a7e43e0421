package api

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/biomarker-normalizer/internal/domain"
	"github.com/biomarker-normalizer/internal/service"
	"github.com/biomarker-normalizer/pkg/biomarker"
)

const missingFieldsMessage = "Missing required fields: fileBase64, fileName, mimeType, userId"

// analyzeRequest is the JSON body of a lab report submission
type analyzeRequest struct {
	FileBase64 string `json:"fileBase64"`
	FileName   string `json:"fileName"`
	MimeType   string `json:"mimeType"`
	UserID     string `json:"userId"`
	TestDate   string `json:"testDate"`
}

type normalizeRequest struct {
	Content string `json:"content"`
}

// legacyContentRequest is the body of the delete and approve routes of the
// first backend
type legacyContentRequest struct {
	TestResultID string `json:"test_result_id"`
}

// handleAnalyze runs one submission through the pipeline
func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "Invalid request body", err.Error())
		return
	}

	if req.FileBase64 == "" || req.FileName == "" || req.MimeType == "" || req.UserID == "" {
		respondError(c, http.StatusBadRequest, domain.ErrValidation, missingFieldsMessage, "")
		return
	}

	fileBytes, err := decodeFile(req.FileBase64)
	if err != nil {
		respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "fileBase64 is not valid base64", err.Error())
		return
	}

	result, err := s.deps.Pipeline.Process(c.Request.Context(), domain.Submission{
		FileBytes: fileBytes,
		FileName:  req.FileName,
		MimeType:  req.MimeType,
		UserID:    req.UserID,
		TestDate:  req.TestDate,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// decodeFile accepts plain base64 or a data URL
func decodeFile(encoded string) ([]byte, error) {
	if strings.HasPrefix(encoded, "data:") {
		if i := strings.IndexByte(encoded, ','); i >= 0 {
			encoded = encoded[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
}

// handleNormalize normalizes an extraction answer without storing anything
func (s *Server) handleNormalize(c *gin.Context) {
	var req normalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "Invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(c, http.StatusBadRequest, domain.ErrValidation, "content is required", "")
		return
	}

	outcome, err := s.deps.Normalizer.Normalize(req.Content)
	if err != nil {
		writeNormalizeError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// handleTaxonomy lists the canonical biomarkers grouped by body system
func (s *Server) handleTaxonomy(c *gin.Context) {
	groups := s.deps.Taxonomy.ByBodySystem()

	systems := make([]gin.H, 0, len(groups))
	for _, system := range biomarker.BodySystems() {
		names, ok := groups[system]
		if !ok {
			continue
		}
		systems = append(systems, gin.H{
			"bodySystem": system,
			"biomarkers": names,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"count":       s.deps.Taxonomy.Len(),
		"bodySystems": systems,
	})
}

func (s *Server) handleGetTestResult(c *gin.Context) {
	record, err := s.deps.Results.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleListTestResults pages through a user's records via ?limit=&offset=
func (s *Server) handleListTestResults(c *gin.Context) {
	limit, offset, err := pageQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}

	records, err := s.deps.Results.ListByUser(c.Request.Context(), c.Param("userId"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"testResults": records,
		"count":       len(records),
	})
}

// pageQuery reads ?limit=&offset=
func pageQuery(c *gin.Context) (int, int, error) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// handleListByApproval serves the review queue via ?approval=pending|approved.
// Without the parameter the pending queue is listed.
func (s *Server) handleListByApproval(c *gin.Context) {
	limit, offset, err := pageQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}
	status := domain.ApprovalStatus(c.DefaultQuery("approval", string(domain.ApprovalPending)))

	records, err := s.deps.Results.ListByApproval(c.Request.Context(), status, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"testResults": records,
		"count":       len(records),
	})
}

func (s *Server) handleApprove(c *gin.Context) {
	record, err := s.deps.Results.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleLegacyContent lists records in one approval state as a bare array of
// {"test_result": ...} entries
func (s *Server) handleLegacyContent(status domain.ApprovalStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset, err := pageQuery(c)
		if err != nil {
			writeError(c, err)
			return
		}

		records, err := s.deps.Results.ListByApproval(c.Request.Context(), status, limit, offset)
		if err != nil {
			writeError(c, err)
			return
		}

		entries := make([]gin.H, 0, len(records))
		for _, record := range records {
			entries = append(entries, gin.H{"test_result": record})
		}
		c.JSON(http.StatusOK, entries)
	}
}

func (s *Server) handleLegacyApprove(c *gin.Context) {
	var req legacyContentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TestResultID == "" {
		respondError(c, http.StatusBadRequest, domain.ErrValidation, "Missing test_result_id", "")
		return
	}
	if _, err := s.deps.Results.Approve(c.Request.Context(), req.TestResultID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(key, "must be an integer", raw)
	}
	return n, nil
}

// handleReplaceResults overwrites a record's results with the request body
func (s *Server) handleReplaceResults(c *gin.Context) {
	results := biomarker.NewResultSet()
	if err := c.ShouldBindJSON(results); err != nil {
		respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "Invalid results body", err.Error())
		return
	}

	record, err := s.deps.Results.ReplaceResults(c.Request.Context(), c.Param("id"), results)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleReclassify(c *gin.Context) {
	record, err := s.deps.Results.Reclassify(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleRecordCorrection(c *gin.Context) {
	var req service.CorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "Invalid request body", err.Error())
		return
	}
	req.TestResultID = c.Param("id")

	correction, err := s.deps.Results.RecordCorrection(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, correction)
}

func (s *Server) handleListCorrections(c *gin.Context) {
	corrections, err := s.deps.Results.Corrections(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"corrections": corrections,
		"count":       len(corrections),
	})
}

func (s *Server) handleDeleteTestResult(c *gin.Context) {
	s.deleteTestResult(c, c.Param("id"))
}

func (s *Server) handleLegacyDelete(c *gin.Context) {
	var req legacyContentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TestResultID == "" {
		respondError(c, http.StatusBadRequest, domain.ErrValidation, "Missing test_result_id", "")
		return
	}
	s.deleteTestResult(c, req.TestResultID)
}

func (s *Server) deleteTestResult(c *gin.Context, id string) {
	if err := s.deps.Results.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"test_result_id": id,
	})
}
