package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"varianthunter/internal/core"
	"varianthunter/internal/export"
	"varianthunter/internal/lineage"
	"varianthunter/pkg/domain"
)

// Row views served by GET /analyses/:id/rows.
const (
	ViewFiltered = "filtered"
	ViewSorted   = "sorted"
	ViewSelected = "selected"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleOperations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"operations": core.Operations()})
}

func (s *Server) handleCommand(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.fail(c, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err))
		return
	}
	result, res, err := s.svc.Dispatch(c.Request.Context(), c.Param("op"), body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, CommandResponse{Result: result, Violations: res.Violations})
}

func (s *Server) handleListAnalyses(c *gin.Context) {
	var filter core.SummaryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err))
		return
	}
	if err := s.validate.Struct(filter); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"analyses": s.svc.AnalysesSummary(c.Request.Context(), filter)})
}

func (s *Server) handleCurrentAnalysis(c *gin.Context) {
	a, ok := s.svc.CurrentAnalysis(c.Request.Context())
	if !ok {
		s.fail(c, core.ErrNoCurrentAnalysis)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleAnalysis(c *gin.Context) {
	id, ok := s.analysisID(c)
	if !ok {
		return
	}
	a, found := s.svc.Analysis(c.Request.Context(), id)
	if !found {
		s.fail(c, notFound(id))
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleEffectiveOpt(c *gin.Context) {
	id, ok := s.analysisID(c)
	if !ok {
		return
	}
	opt, found := s.svc.EffectiveOpt(c.Request.Context(), id)
	if !found {
		s.fail(c, notFound(id))
		return
	}
	c.JSON(http.StatusOK, opt)
}

func (s *Server) handleRows(c *gin.Context) {
	id, ok := s.analysisID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	var (
		rows  []domain.MutationRow
		found bool
		err   error
	)
	switch view := c.DefaultQuery("view", ViewSorted); view {
	case ViewFiltered:
		rows, found = s.svc.FilteredRows(ctx, id)
	case ViewSorted:
		rows, found, err = s.svc.SortedRows(ctx, id)
	case ViewSelected:
		rows, found = s.svc.SelectedRows(ctx, id)
	default:
		s.fail(c, fmt.Errorf("%w: unknown row view %q", core.ErrInvalidPayload, view))
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	if !found {
		s.fail(c, notFound(id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

func (s *Server) handlePlot(c *gin.Context) {
	id, ok := s.analysisID(c)
	if !ok {
		return
	}
	plot, found, err := s.svc.PlotInfo(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !found {
		s.fail(c, notFound(id))
		return
	}
	c.JSON(http.StatusOK, plot)
}

func (s *Server) handleDownload(c *gin.Context) {
	id, ok := s.analysisID(c)
	if !ok {
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		s.fail(c, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err))
		return
	}
	doc, err := s.exporter.Document(c.Request.Context(), id, export.Selection(c.Query("selection")))
	if err != nil {
		s.fail(c, err)
		return
	}
	payload, err := export.Render(doc, format)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name+"."+string(format)))
	c.Data(http.StatusOK, format.ContentType(), payload)
}

func (s *Server) handleTags(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tags": s.svc.Tags(c.Request.Context())})
}

func (s *Server) handlePanel(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Panel(c.Request.Context()))
}

type compactRequest struct {
	Level int           `json:"level"`
	Rows  []lineage.Row `json:"rows"`
}

func (s *Server) handleCompactLineages(c *gin.Context) {
	var req compactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err))
		return
	}
	if req.Level == 0 {
		req.Level = 1
	}
	rows, err := lineage.Compact(req.Rows, req.Level)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lineages": rows})
}

type exportRequest struct {
	AnalysisID  *int     `json:"analysisId" validate:"required,gte=0"`
	Formats     []string `json:"formats" validate:"omitempty,dive,oneof=csv json yaml yml"`
	Selection   string   `json:"selection" validate:"omitempty,oneof=sorted selected"`
	RequestedBy string   `json:"requestedBy"`
}

func (s *Server) handleExportCreate(c *gin.Context) {
	if s.worker == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "queued exports disabled", Code: "NOT_IMPLEMENTED"})
		return
	}
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.fail(c, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err))
		return
	}
	formats := make([]export.Format, 0, len(req.Formats))
	for _, f := range req.Formats {
		formats = append(formats, export.Format(f))
	}
	rec, err := s.worker.Enqueue(c.Request.Context(), export.Request{
		AnalysisID:  *req.AnalysisID,
		Formats:     formats,
		Selection:   export.Selection(req.Selection),
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"export": rec})
}

func (s *Server) handleExportGet(c *gin.Context) {
	if s.worker == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "queued exports disabled", Code: "NOT_IMPLEMENTED"})
		return
	}
	rec, ok := s.worker.Get(c.Param("id"))
	if !ok {
		s.fail(c, domain.NotFoundError{Entity: "export", ID: c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"export": rec})
}

func (s *Server) handleExportDelete(c *gin.Context) {
	if s.worker == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "queued exports disabled", Code: "NOT_IMPLEMENTED"})
		return
	}
	if err := s.worker.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleArtifactStat(c *gin.Context) {
	info, err := s.exporter.Stat(c.Request.Context(), c.Param("id"), c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifact": info})
}

func (s *Server) analysisID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 0 {
		s.fail(c, fmt.Errorf("%w: analysis id must be a non-negative integer", core.ErrInvalidPayload))
		return 0, false
	}
	return id, true
}

func notFound(id int) error {
	return domain.NotFoundError{Entity: domain.EntityAnalysis, ID: strconv.Itoa(id)}
}
