/*
handlers.go - HTTP API handlers for the personnel engine

PURPOSE:
  Exposes units, people, daily reports and the change-request workflow via
  a REST API. Handles HTTP request/response and JSON serialization and
  delegates every decision to the domain services.

ENDPOINTS:
  Units:
    GET    /api/units                          List the unit forest
    POST   /api/units                          Create unit (admin)
    POST   /api/units/{id}/move                Re-parent unit (admin)

  People:
    GET    /api/people                         People visible to the caller
    POST   /api/people                         Register person
    GET    /api/people/{id}                    Person details
    PATCH  /api/people/{id}                    Direct edit (creator only)

  Daily reports:
    POST   /api/reports                        Open a report
    GET    /api/reports/{id}                   Report with rows
    POST   /api/reports/{id}/justifications    Add row
    PUT    /api/reports/{id}/justifications/{rowId}
    DELETE /api/reports/{id}/justifications/{rowId}
    POST   /api/reports/{id}/submit            DRAFT → PENDING
    POST   /api/reports/{id}/decide            PENDING → APPROVED/REJECTED
    GET    /api/reports/{id}/summary           Headcount and presence rate
    GET    /api/categories                     Absence categories

  Change requests:
    POST   /api/change-requests                Submit
    GET    /api/change-requests/mine           Caller's own requests
    GET    /api/change-requests/inbox          Requests awaiting the caller
    GET    /api/change-requests/{id}           Details
    POST   /api/change-requests/{id}/approve
    POST   /api/change-requests/{id}/reject
    POST   /api/change-requests/{id}/cancel
    GET    /api/change-requests/{id}/document  Download audit document
    POST   /api/change-requests/{id}/document  Regenerate audit document

ERROR HANDLING:
  Domain errors carry a result code; the code decides the HTTP status:
  - 400: VALIDATION_ERROR, INVALID_PAYLOAD, PERIOD_INVALID_TODAY, UNIT_CYCLE
  - 401: UNAUTHORIZED
  - 403: FORBIDDEN, FORBIDDEN_UNIT
  - 404: NOT_FOUND, PERSON_NOT_FOUND, PDF_NOT_FOUND
  - 409: state conflicts and uniqueness violations
  - 500: anything else, logged and returned without details

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Principal extraction
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/warp/personnel-engine/attendance"
	"github.com/warp/personnel-engine/changerequest"
	"github.com/warp/personnel-engine/factory"
	"github.com/warp/personnel-engine/personnel"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API reads and writes. Both store/sqlite and
// store/memory satisfy it.
type Store interface {
	personnel.UnitStore
	personnel.PersonStore
	personnel.UserStore
	changerequest.Store
	attendance.Store

	// Reset clears all data before a demo scenario is loaded.
	Reset(ctx context.Context) error
}

// Options carries the collaborators built in cmd/server.
type Options struct {
	Engine   *changerequest.Engine
	Payloads *factory.PayloadFactory
	Tokens   *TokenIssuer
	Hasher   changerequest.PasswordHasher
	Lock     attendance.LockPolicy
	Clock    personnel.Clock
	Log      logrus.FieldLogger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Units    *personnel.UnitService
	People   *personnel.PeopleService
	Reports  *attendance.Service
	Requests *changerequest.Engine
	Payloads *factory.PayloadFactory
	Tokens   *TokenIssuer
	Hasher   changerequest.PasswordHasher
	Clock    personnel.Clock
	Log      logrus.FieldLogger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the domain services around store.
func NewHandler(store Store, opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = personnel.SystemClock(time.Local)
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Payloads == nil {
		opts.Payloads = factory.NewPayloadFactory()
	}

	auth := personnel.NewAuthorizer(store)
	return &Handler{
		Store: store,
		Units: &personnel.UnitService{Units: store},
		People: &personnel.PeopleService{
			People: store,
			Units:  store,
			Auth:   auth,
			Clock:  opts.Clock,
		},
		Reports: &attendance.Service{
			Store:  store,
			People: store,
			Units:  store,
			Auth:   auth,
			Lock:   opts.Lock,
			Clock:  opts.Clock,
		},
		Requests: opts.Engine,
		Payloads: opts.Payloads,
		Tokens:   opts.Tokens,
		Hasher:   opts.Hasher,
		Clock:    opts.Clock,
		Log:      opts.Log,
	}
}

// =============================================================================
// UNIT HANDLERS
// =============================================================================

// ListUnits returns the whole unit forest.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.Units.ListUnits(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]UnitDTO, len(units))
	for i, u := range units {
		dtos[i] = toUnitDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUnit adds a unit.
func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CreateUnitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	unit, err := h.Units.CreateUnit(r.Context(), p, req.Code, req.Name, unitIDPtr(req.ParentID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitDTO(*unit))
}

// MoveUnit re-parents a unit.
func (h *Handler) MoveUnit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req MoveUnitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id := personnel.UnitID(chi.URLParam(r, "id"))
	unit, err := h.Units.MoveUnit(r.Context(), p, id, unitIDPtr(req.ParentID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(*unit))
}

// =============================================================================
// PEOPLE HANDLERS
// =============================================================================

// ListPeople returns the people the caller may see.
func (h *Handler) ListPeople(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	people, err := h.People.ListPeople(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]PersonDTO, len(people))
	for i, person := range people {
		dtos[i] = toPersonDTO(person)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPerson returns a single person.
func (h *Handler) GetPerson(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	person, err := h.People.GetPerson(r.Context(), p, personnel.PersonID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPersonDTO(*person))
}

// CreatePerson registers a person in the caller's unit.
func (h *Handler) CreatePerson(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CreatePersonRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in := personnel.Person{
		ServiceNo:      req.ServiceNo,
		PersonalNumber: req.PersonalNumber,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		MiddleName:     req.MiddleName,
		Gender:         req.Gender,
		City:           req.City,
		Address:        req.Address,
		Phone:          req.Phone,
		Position:       req.Position,
		Notes:          req.Notes,
		GradeID:        personnel.GradeID(req.GradeID),
		UnitID:         personnel.UnitID(req.UnitID),
	}
	var err error
	if in.BirthDate, err = h.optionalDate("birthDate", req.BirthDate); err != nil {
		h.fail(w, r, err)
		return
	}
	if in.ServiceStartDate, err = h.optionalDate("serviceStartDate", req.ServiceStartDate); err != nil {
		h.fail(w, r, err)
		return
	}
	if in.UnitID == "" && p.UnitID != nil {
		in.UnitID = *p.UnitID
	}

	person, err := h.People.CreatePerson(r.Context(), p, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPersonDTO(*person))
}

// UpdatePerson applies a field patch directly. The body is the patch object.
func (h *Handler) UpdatePerson(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeCodeError(w, http.StatusBadRequest, personnel.CodeValidation, "Invalid request body", err)
		return
	}
	patch, err := personnel.DecodePersonPatch(body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	person, err := h.People.UpdatePerson(r.Context(), p, personnel.PersonID(chi.URLParam(r, "id")), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPersonDTO(*person))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// CreateReport opens a DRAFT report.
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CreateReportRequest
	if !decodeBody(w, r, &req) {
		return
	}

	date, err := h.parseDate("date", req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	report, err := h.Reports.CreateReport(r.Context(), p, date, personnel.UnitID(req.UnitID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReportDTO(*report, nil))
}

// GetReport returns a report and its rows.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	report, rows, err := h.Reports.GetReport(r.Context(), p, reportID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(*report, rows))
}

// AddJustification writes a row on an editable report.
func (h *Handler) AddJustification(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	in, ok := h.justificationInput(w, r)
	if !ok {
		return
	}

	row, err := h.Reports.AddJustification(r.Context(), p, reportID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJustificationDTO(*row))
}

// UpdateJustification rewrites a row.
func (h *Handler) UpdateJustification(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	in, ok := h.justificationInput(w, r)
	if !ok {
		return
	}

	rowID := attendance.JustificationID(chi.URLParam(r, "rowId"))
	row, err := h.Reports.UpdateJustification(r.Context(), p, reportID(r), rowID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJustificationDTO(*row))
}

// DeleteJustification removes a row.
func (h *Handler) DeleteJustification(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	rowID := attendance.JustificationID(chi.URLParam(r, "rowId"))
	if err := h.Reports.DeleteJustification(r.Context(), p, reportID(r), rowID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": string(rowID)})
}

// SubmitReport locks a report for the commander's decision.
func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	report, err := h.Reports.SubmitReport(r.Context(), p, reportID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(*report, nil))
}

// DecideReport approves or rejects a submitted report.
func (h *Handler) DecideReport(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req DecideReportRequest
	if !decodeBody(w, r, &req) {
		return
	}

	report, err := h.Reports.DecideReport(r.Context(), p, reportID(r), req.Approve, req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(*report, nil))
}

// ReportSummary returns headcount, absences and the presence rate.
func (h *Handler) ReportSummary(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	summary, err := h.Reports.Summarize(r.Context(), p, reportID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// ListCategories returns the absence categories.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Store.ListCategories(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	type categoryDTO struct {
		ID     string `json:"id"`
		Code   string `json:"code"`
		Name   string `json:"name"`
		Period bool   `json:"period"`
	}
	dtos := make([]categoryDTO, len(categories))
	for i, c := range categories {
		dtos[i] = categoryDTO{ID: string(c.ID), Code: c.Code, Name: c.Name, Period: c.IsPeriod()}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) justificationInput(w http.ResponseWriter, r *http.Request) (attendance.JustificationInput, bool) {
	var req JustificationRequest
	if !decodeBody(w, r, &req) {
		return attendance.JustificationInput{}, false
	}

	in := attendance.JustificationInput{
		PersonID:   personnel.PersonID(req.PersonID),
		CategoryID: attendance.CategoryID(req.CategoryID),
		Location:   req.Location,
		Notes:      req.Notes,
		Emergency:  req.Emergency,
	}
	// Emergency rows get their dates pinned by the service, so empty dates
	// are allowed through here.
	var err error
	if req.From != "" || !req.Emergency {
		if in.From, err = h.parseDate("from", req.From); err != nil {
			h.fail(w, r, err)
			return in, false
		}
	}
	if req.To != "" || !req.Emergency {
		if in.To, err = h.parseDate("to", req.To); err != nil {
			h.fail(w, r, err)
			return in, false
		}
	}
	return in, true
}

func reportID(r *http.Request) attendance.ReportID {
	return attendance.ReportID(chi.URLParam(r, "id"))
}

// =============================================================================
// CHANGE REQUEST HANDLERS
// =============================================================================

// CreateChangeRequest submits a request. The payload is validated against
// the schema of its type before the engine sees it.
func (h *Handler) CreateChangeRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CreateChangeRequestRequest
	if !decodeBody(w, r, &req) {
		return
	}

	typ := changerequest.Type(strings.ToUpper(strings.TrimSpace(req.Type)))
	if !typ.Valid() {
		writeCodeError(w, http.StatusBadRequest, personnel.CodeValidation,
			fmt.Sprintf("Unknown request type %q", req.Type), nil)
		return
	}
	payload, err := h.Payloads.Parse(typ, req.Payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	in := changerequest.CreateInput{Type: typ, Payload: payload}
	if req.PersonID != nil && *req.PersonID != "" {
		id := personnel.PersonID(*req.PersonID)
		in.PersonID = &id
	}

	cr, err := h.Requests.Create(r.Context(), p, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeRequest(w, r, http.StatusCreated, cr)
}

// ListMyChangeRequests lists requests the caller created.
func (h *Handler) ListMyChangeRequests(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	page, err := h.Requests.ListMine(r.Context(), p, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writePage(w, r, page)
}

// ListInbox lists requests awaiting the caller's decision.
func (h *Handler) ListInbox(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	page, err := h.Requests.ListInbox(r.Context(), p, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writePage(w, r, page)
}

// GetChangeRequest returns one request.
func (h *Handler) GetChangeRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	cr, err := h.Requests.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeRequest(w, r, http.StatusOK, cr)
}

// ApproveChangeRequest applies a request.
func (h *Handler) ApproveChangeRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	result, err := h.Requests.Approve(r.Context(), p, chi.URLParam(r, "id"), req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeDecision(w, r, result)
}

// RejectChangeRequest refuses a request. A note is required.
func (h *Handler) RejectChangeRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	result, err := h.Requests.Reject(r.Context(), p, chi.URLParam(r, "id"), req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeDecision(w, r, result)
}

// CancelChangeRequest withdraws a pending request.
func (h *Handler) CancelChangeRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	cr, err := h.Requests.Cancel(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeRequest(w, r, http.StatusOK, cr)
}

// DownloadDocument streams the audit document.
func (h *Handler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	rc, cr, err := h.Requests.Document(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer rc.Close()

	ext := path.Ext(cr.Document.Path)
	name := string(cr.ID) + ext
	if cr.DocNo != nil {
		name = *cr.DocNo + ext
	}
	w.Header().Set("Content-Type", contentTypeFor(ext))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger(r).WithError(err).Warn("document download interrupted")
	}
}

// RegenerateDocument renders the audit document again.
func (h *Handler) RegenerateDocument(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	cr, err := h.Requests.RegenerateDocument(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeRequest(w, r, http.StatusOK, cr)
}

func parseFilter(r *http.Request) (changerequest.Filter, error) {
	q := r.URL.Query()
	f := changerequest.Filter{
		Status: changerequest.Status(strings.ToUpper(q.Get("status"))),
		Type:   changerequest.Type(strings.ToUpper(q.Get("type"))),
	}

	switch f.Status {
	case "", changerequest.StatusPending, changerequest.StatusApproved,
		changerequest.StatusRejected, changerequest.StatusCancelled, changerequest.StatusArchive:
	default:
		return f, personnel.Errorf(personnel.CodeValidation, "unknown status filter %q", q.Get("status"))
	}
	if f.Type != "" && !f.Type.Valid() {
		return f, personnel.Errorf(personnel.CodeValidation, "unknown type filter %q", q.Get("type"))
	}

	var err error
	if f.Page, err = intParam(q.Get("page")); err != nil {
		return f, personnel.Errorf(personnel.CodeValidation, "page must be a number")
	}
	if f.PageSize, err = intParam(q.Get("pageSize")); err != nil {
		return f, personnel.Errorf(personnel.CodeValidation, "pageSize must be a number")
	}
	return f, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func contentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (h *Handler) toChangeRequestDTO(cr *changerequest.ChangeRequest) (ChangeRequestDTO, error) {
	payload, err := h.Payloads.Encode(cr.Payload)
	if err != nil {
		return ChangeRequestDTO{}, err
	}

	dto := ChangeRequestDTO{
		ID:              string(cr.ID),
		Type:            string(cr.Type),
		Status:          string(cr.Status),
		CreatedBy:       string(cr.CreatedBy),
		CreatedByRole:   string(cr.CreatedByRole),
		CreatedByUnitID: optionalID(cr.CreatedByUnitID),
		PersonID:        optionalID(cr.PersonID),
		TargetUnitID:    optionalID(cr.TargetUnitID),
		TargetRole:      optionalID(cr.TargetRole),
		Payload:         payload,
		DecidedBy:       optionalID(cr.DecidedBy),
		DecidedAt:       optionalTimestamp(cr.DecidedAt),
		DecisionNote:    cr.DecisionNote,
		Snapshot:        cr.Snapshot,
		DocNo:           cr.DocNo,
		HasDocument:     cr.Document != nil,
		CreatedAt:       formatTimestamp(cr.CreatedAt),
		UpdatedAt:       formatTimestamp(cr.UpdatedAt),
	}
	if cr.Document != nil {
		dto.DocumentAt = optionalTimestamp(&cr.Document.GeneratedAt)
	}
	return dto, nil
}

func (h *Handler) writeRequest(w http.ResponseWriter, r *http.Request, status int, cr *changerequest.ChangeRequest) {
	dto, err := h.toChangeRequestDTO(cr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, dto)
}

func (h *Handler) writeDecision(w http.ResponseWriter, r *http.Request, result *changerequest.DecisionResult) {
	dto, err := h.toChangeRequestDTO(result.Request)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DecisionResponse{
		ChangeRequestDTO: dto,
		EmailSent:        result.EmailSent,
		TempPassword:     result.TempPassword,
		DocumentError:    result.DocumentError,
	})
}

func (h *Handler) writePage(w http.ResponseWriter, r *http.Request, page *changerequest.Page) {
	out := PageDTO{
		Items:    make([]ChangeRequestDTO, 0, len(page.Items)),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
	for i := range page.Items {
		dto, err := h.toChangeRequestDTO(&page.Items[i])
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out.Items = append(out.Items, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (personnel.Principal, bool) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeCodeError(w, http.StatusUnauthorized, personnel.CodeUnauthorized, "Authorization is required", nil)
	}
	return p, ok
}

func (h *Handler) logger(r *http.Request) logrus.FieldLogger {
	return h.Log.WithField("request_id", middleware.GetReqID(r.Context()))
}

// fail writes err with the status its code maps to. Internal errors are
// logged and their details withheld.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := personnel.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.logger(r).WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeCodeError(w, status, personnel.CodeInternal, "Internal server error", nil)
		return
	}
	writeCodeError(w, status, code, messageOf(err), nil)
}

func statusFor(code personnel.Code) int {
	switch code {
	case personnel.CodeValidation, personnel.CodeInvalidPayload,
		personnel.CodePeriodInvalidToday, personnel.CodeUnitCycle:
		return http.StatusBadRequest
	case personnel.CodeUnauthorized:
		return http.StatusUnauthorized
	case personnel.CodeForbidden, personnel.CodeForbiddenUnit:
		return http.StatusForbidden
	case personnel.CodeNotFound, personnel.CodePersonNotFound, personnel.CodeDocumentNotFound:
		return http.StatusNotFound
	case personnel.CodeAlreadyPending, personnel.CodeNotPending, personnel.CodeUserExists,
		personnel.CodeServiceNoExists, personnel.CodePersonalNoExists, personnel.CodeReportExists,
		personnel.CodeUnitCodeExists, personnel.CodeReportLocked, personnel.CodeAfterCutoff:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// messageOf returns the domain message without the code prefix.
func messageOf(err error) string {
	var de *personnel.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

func (h *Handler) parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, personnel.Errorf(personnel.CodeValidation, "%s is required", field)
	}
	t, err := personnel.ParseDate(value, h.Clock().Location())
	if err != nil {
		return time.Time{}, personnel.Wrap(personnel.CodeValidation, err, field+" must be YYYY-MM-DD")
	}
	return t, nil
}

func (h *Handler) optionalDate(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := h.parseDate(field, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func unitIDPtr(s *string) *personnel.UnitID {
	if s == nil || *s == "" {
		return nil
	}
	id := personnel.UnitID(*s)
	return &id
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeCodeError(w, http.StatusBadRequest, personnel.CodeValidation, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || err == io.EOF {
		return true
	}
	writeCodeError(w, http.StatusBadRequest, personnel.CodeValidation, "Invalid request body", err)
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeCodeError(w http.ResponseWriter, status int, code personnel.Code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: string(code)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
