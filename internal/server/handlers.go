package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/code-sleuth/ike-rag/internal/manager/models"

	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Error string `json:"error"`
}

type dataResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

type ingestRequest struct {
	URL string `json:"url"`
}

type ingestResult struct {
	JobID  string           `json:"jobId"`
	URL    string           `json:"url"`
	Status models.JobStatus `json:"status"`
}

type askRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"sessionId"`
}

type jobView struct {
	JobID        string           `json:"jobId"`
	URL          string           `json:"url"`
	Status       models.JobStatus `json:"status"`
	QueuedAt     time.Time        `json:"queuedAt"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
	ErrorMessage *string          `json:"errorMessage,omitempty"`
}

func newJobView(job *models.IngestJob) jobView {
	return jobView{
		JobID:        job.JobID,
		URL:          job.URL,
		Status:       job.Status,
		QueuedAt:     job.QueuedAt,
		CompletedAt:  job.CompletedAt,
		ErrorMessage: job.ErrorMessage,
	}
}

func (s *Server) ingest(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	job, err := s.queue.Submit(c.Request().Context(), req.URL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, dataResponse{
		Message: "Job queued",
		Data:    ingestResult{JobID: job.JobID, URL: job.URL, Status: job.Status},
	})
}

func (s *Server) listJobs(c echo.Context) error {
	jobs, err := s.queue.List(c.Request().Context(), models.JobStatus(c.QueryParam("status")))
	if err != nil {
		return err
	}
	views := make([]jobView, len(jobs))
	for i := range jobs {
		views[i] = newJobView(&jobs[i])
	}
	return c.JSON(http.StatusOK, dataResponse{Data: views})
}

func (s *Server) getJob(c echo.Context) error {
	job, err := s.queue.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dataResponse{Data: newJobView(job)})
}

func (s *Server) cancelJob(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if err := s.queue.Cancel(ctx, id); err != nil {
		return err
	}
	job, err := s.queue.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, dataResponse{Message: "Cancellation requested", Data: newJobView(job)})
}

func (s *Server) ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.retrieval.Ask(c.Request().Context(), req.Prompt, strings.TrimSpace(req.SessionID))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dataResponse{Data: result})
}

// listChats returns one session's history with ?session=, or every
// interaction without it.
func (s *Server) listChats(c echo.Context) error {
	ctx := c.Request().Context()
	var (
		chats []models.ChatInteraction
		err   error
	)
	if session := strings.TrimSpace(c.QueryParam("session")); session != "" {
		chats, err = s.retrieval.History(ctx, session)
	} else {
		chats, err = s.chats.List(ctx)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dataResponse{Data: chats})
}

func (s *Server) listDocuments(c echo.Context) error {
	docs, err := s.docs.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dataResponse{Data: docs})
}

func (s *Server) listChunks(c echo.Context) error {
	ctx := c.Request().Context()
	doc, err := s.docs.GetRawDoc(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	chunks, err := s.docs.ChunksByDoc(ctx, doc.DocID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dataResponse{Data: chunks})
}
