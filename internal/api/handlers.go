package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"radiology-workflow/internal/critical"
	"radiology-workflow/internal/models"
)

type createStudyRequest struct {
	Study    models.Study `json:"study"`
	Priority string       `json:"priority"`
}

func (s *Server) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	var req createStudyRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Study.ID == "" {
		s.writeError(w, r, badRequest("study.id is required"))
		return
	}
	if req.Study.Status != "" && !req.Study.Status.Valid() {
		s.writeError(w, r, badRequest("invalid study status %q", req.Study.Status))
		return
	}
	priority := models.RoutingRoutine
	if req.Priority != "" {
		p, err := models.ParseRoutingPriority(req.Priority)
		if err != nil {
			s.writeError(w, r, badRequest("%v", err))
			return
		}
		priority = p
	}

	out, err := s.engine.ProcessNewStudy(r.Context(), &req.Study, priority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

type studyStatusResponse struct {
	StudyID string             `json:"study_id"`
	Status  models.StudyStatus `json:"status"`
}

func (s *Server) handleStudyStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.engine.StudyStatus(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, studyStatusResponse{StudyID: id, Status: status})
}

type updateStudyStatusRequest struct {
	// Current defaults to the last status recorded for the study.
	Current string `json:"current"`
	Event   string `json:"event"`
}

func (s *Server) handleUpdateStudyStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateStudyStatusRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	event, err := models.ParseStudyEvent(req.Event)
	if err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}

	var current models.StudyStatus
	if req.Current == "" {
		current, err = s.engine.StudyStatus(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	} else if current, err = models.ParseStudyStatus(req.Current); err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}

	next, err := s.engine.UpdateStudyStatus(r.Context(), id, current, event)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, studyStatusResponse{StudyID: id, Status: next})
}

type eventsResponse struct {
	Events []models.DomainEvent `json:"events"`
	Cursor int64                `json:"cursor"`
}

func (s *Server) handleStudyEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.NotFound(w, r)
		return
	}
	after, err := queryInt(r, "after", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, cursor, err := s.journal.Events(r.Context(), r.PathValue("id"), int64(after), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []models.DomainEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, Cursor: cursor})
}

type createCriticalValueRequest struct {
	StudyID         string     `json:"study_id"`
	PatientID       string     `json:"patient_id"`
	ValueType       string     `json:"value_type"`
	Description     string     `json:"description"`
	DetectedBy      string     `json:"detected_by"`
	Severity        string     `json:"severity"`
	ClinicalContext string     `json:"clinical_context"`
	DetectedAt      *time.Time `json:"detected_at"`
}

func (req createCriticalValueRequest) toEvent() (critical.NewEvent, error) {
	if req.StudyID == "" || req.PatientID == "" {
		return critical.NewEvent{}, badRequest("study_id and patient_id are required")
	}
	vt, err := models.ParseCriticalValueType(req.ValueType)
	if err != nil {
		return critical.NewEvent{}, badRequest("%v", err)
	}
	sev, err := models.ParseSeverity(req.Severity)
	if err != nil {
		return critical.NewEvent{}, badRequest("%v", err)
	}
	ev := critical.NewEvent{
		StudyID:         req.StudyID,
		PatientID:       req.PatientID,
		ValueType:       vt,
		Description:     req.Description,
		DetectedBy:      req.DetectedBy,
		Severity:        sev,
		ClinicalContext: req.ClinicalContext,
	}
	if req.DetectedAt != nil {
		ev.DetectedAt = *req.DetectedAt
	}
	return ev, nil
}

func (s *Server) handleCreateCriticalValue(w http.ResponseWriter, r *http.Request) {
	var req createCriticalValueRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := req.toEvent()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ev, err := s.engine.CreateCriticalValue(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

type criticalValueResponse struct {
	Event         *models.CriticalValueEvent   `json:"event"`
	Notifications []*models.NotificationRecord `json:"notifications"`
}

func (s *Server) handleCriticalValue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ev, err := s.engine.Critical().Event(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.engine.Critical().EventNotifications(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, criticalValueResponse{Event: ev, Notifications: records})
}

type acknowledgeRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.UserID == "" {
		s.writeError(w, r, badRequest("user_id is required"))
		return
	}
	if err := s.engine.AcknowledgeCriticalValue(r.Context(), r.PathValue("id"), req.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type receiptRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	status := models.NotificationStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	err := s.engine.Critical().UpdateDeliveryStatus(r.PathValue("id"), status)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			err = errors.Join(models.ErrConflict, err)
		}
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserNotifications(w http.ResponseWriter, r *http.Request) {
	recs := s.engine.Critical().RecipientNotifications(r.PathValue("id"))
	if recs == nil {
		recs = []*models.NotificationRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type drainResponse struct {
	Sent     int `json:"sent"`
	Retrying int `json:"retrying"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
}

func (s *Server) handleProcessNotifications(w http.ResponseWriter, r *http.Request) {
	res := s.engine.ProcessNotifications(r.Context())
	writeJSON(w, http.StatusOK, drainResponse{
		Sent:     res.Sent,
		Retrying: res.Retrying,
		Failed:   res.Failed,
		Deferred: res.Deferred,
	})
}

type escalationsResponse struct {
	Escalations []models.Escalation `json:"escalations"`
	Error       string              `json:"error,omitempty"`
}

// handleCheckEscalations fires due escalations. Fired escalations are never
// reported again, so execution failures are returned alongside them rather
// than replacing the list.
func (s *Server) handleCheckEscalations(w http.ResponseWriter, r *http.Request) {
	due, err := s.engine.CheckEscalations(r.Context())
	if due == nil {
		due = []models.Escalation{}
	}
	resp := escalationsResponse{Escalations: due}
	if err != nil {
		s.logger.Error("escalation execution failed", "error", err)
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWorkItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.engine.WorkItem(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type assignRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ReviewerID == "" {
		s.writeError(w, r, badRequest("reviewer_id is required"))
		return
	}
	item, err := s.engine.AssignWorkItem(r.Context(), r.PathValue("id"), req.ReviewerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type workItemStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleWorkItemStatus(w http.ResponseWriter, r *http.Request) {
	var req workItemStatusRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := models.ParseWorkItemStatus(req.Status)
	if err != nil {
		s.writeError(w, r, badRequest("%v", err))
		return
	}
	item, err := s.engine.UpdateWorkItemStatus(r.Context(), r.PathValue("id"), status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleReviewerWorklist(w http.ResponseWriter, r *http.Request) {
	items, err := s.engine.ReviewerWorklist(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*models.WorkItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// splitQuery accepts both repeated parameters and comma separated values.
func splitQuery(r *http.Request, name string) []string {
	var out []string
	for _, v := range r.URL.Query()[name] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func worklistFilter(r *http.Request) (models.WorklistFilter, error) {
	f := models.WorklistFilter{
		ReviewerID: r.URL.Query().Get("reviewer"),
		Tags:       splitQuery(r, "tag"),
	}
	for _, raw := range splitQuery(r, "status") {
		st, err := models.ParseWorkItemStatus(raw)
		if err != nil {
			return f, badRequest("%v", err)
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, raw := range splitQuery(r, "priority") {
		p, err := models.ParseWorkItemPriority(raw)
		if err != nil {
			return f, badRequest("%v", err)
		}
		f.Priorities = append(f.Priorities, p)
	}
	var err error
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(r, "limit", 0); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleQueryWorklist(w http.ResponseWriter, r *http.Request) {
	f, err := worklistFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := s.engine.QueryWorklist(f)
	if items == nil {
		items = []*models.WorkItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleWorklistStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.WorklistStats(r.URL.Query().Get("reviewer")))
}

type reviewerView struct {
	*models.Reviewer
	Workload int `json:"workload"`
}

func (s *Server) handleListReviewers(w http.ResponseWriter, r *http.Request) {
	reviewers := s.engine.Reviewers()
	out := make([]reviewerView, 0, len(reviewers))
	for _, rv := range reviewers {
		out = append(out, reviewerView{Reviewer: rv, Workload: s.engine.Workload(rv.ID)})
	}
	writeJSON(w, http.StatusOK, out)
}

type addReviewerRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Specialties []string `json:"specialties"`
	MaxWorkload int      `json:"max_workload"`
	Available   *bool    `json:"available"`
}

func (s *Server) handleAddReviewer(w http.ResponseWriter, r *http.Request) {
	var req addReviewerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ID == "" {
		s.writeError(w, r, badRequest("id is required"))
		return
	}
	rv := &models.Reviewer{
		ID:          req.ID,
		Name:        req.Name,
		Specialties: req.Specialties,
		MaxWorkload: req.MaxWorkload,
		Available:   req.Available == nil || *req.Available,
	}
	if err := s.engine.AddReviewer(rv); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

type availabilityRequest struct {
	Available *bool `json:"available"`
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Available == nil {
		s.writeError(w, r, badRequest("available is required"))
		return
	}
	if err := s.engine.SetReviewerAvailability(r.PathValue("id"), *req.Available); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.SystemOverview())
}
