package accounts

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oncoportal/platform/internal/shared/auth"
	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/middleware"
	"github.com/oncoportal/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the accounts module
type Handler struct {
	repo    *Repository
	service *Service
}

// NewHandler creates a new accounts handler
func NewHandler(repo *Repository, service *Service) *Handler {
	return &Handler{repo: repo, service: service}
}

// PublicRoutes registers routes that require no authentication
func (h *Handler) PublicRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/signup", h.Signup)
	r.Post("/login", h.Login)
	r.Get("/verify-email/{token}", h.VerifyEmail)
	r.Post("/password-reset", h.RequestPasswordReset)
	r.Post("/password-reset/{token}", h.CompletePasswordReset)

	return r
}

// Routes registers authenticated account routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/logout", h.Logout)
	r.Get("/profile", h.GetProfile)
	r.Put("/profile", h.UpdateProfile)
	r.Put("/profile/language", h.UpdateLanguage)
	r.Get("/clinicians", h.ListClinicians)
	r.Post("/assignment-requests", h.CreateAssignmentRequest)

	return r
}

// AdminRoutes registers administrator-only account routes
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()

	r.Get("/users", h.ListUsers)
	r.Get("/users/{userID}", h.GetUser)
	r.Put("/users/{userID}", h.UpdateUser)
	r.Post("/patients/{userID}/assign-doctor", h.AssignDoctor)
	r.Get("/assignment-requests", h.ListAssignmentRequests)
	r.Post("/assignment-requests/{requestID}/review", h.ReviewAssignmentRequest)

	return r
}

// Signup creates a new patient account
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	user, err := h.service.Signup(r.Context(), req, middleware.ClientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// VerifyEmail consumes an email verification token
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.VerifyEmail(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"verified": true,
		"email":    user.Email,
	})
}

// Login authenticates a user and returns a JWT
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	result, err := h.service.Login(r.Context(), req, middleware.ClientIP(r), r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":       result.User,
		"token":      result.Token,
		"expires_in": int(result.ExpiresIn / time.Second),
	})
}

// Logout records the logout event
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	h.service.Logout(r.Context(), user, middleware.ClientIP(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// RequestPasswordReset always answers 202 to avoid user enumeration
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, errors.BadRequest("email is required"))
		return
	}

	h.service.RequestPasswordReset(r.Context(), req.Email)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "if the account exists, a reset email has been sent",
	})
}

// CompletePasswordReset consumes a reset token and sets a new password
func (h *Handler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := h.service.CompletePasswordReset(r.Context(), chi.URLParam(r, "token"), req.Password); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

// GetProfile returns the authenticated user's profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	profile, err := h.repo.FindUserByID(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// UpdateProfile applies profile edits
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), user.ID, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// UpdateLanguage changes only the preferred language
func (h *Handler) UpdateLanguage(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	var req struct {
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), user.ID, UpdateProfileRequest{Language: &req.Language})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// ListClinicians returns active clinicians for the assignment picker
func (h *Handler) ListClinicians(w http.ResponseWriter, r *http.Request) {
	clinicians, err := h.repo.ListClinicians(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": clinicians})
}

// CreateAssignmentRequest lets a patient request a clinician
func (h *Handler) CreateAssignmentRequest(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil || !user.IsPatient() {
		writeError(w, errors.Forbidden("only patients can request a doctor assignment"))
		return
	}

	var req struct {
		DoctorID string `json:"doctor_id"`
		Notes    string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	doctorID, err := types.ParseID(req.DoctorID)
	if err != nil {
		writeError(w, errors.BadRequest("invalid doctor ID"))
		return
	}

	doctor, err := h.repo.FindUserByID(r.Context(), doctorID)
	if err != nil {
		writeError(w, err)
		return
	}
	if doctor.Role != auth.RoleClinician {
		writeError(w, errors.BadRequest("requested user is not a clinician"))
		return
	}

	request := &DoctorAssignmentRequest{
		ID:        types.NewID(),
		PatientID: user.ID,
		DoctorID:  doctorID,
		Status:    AssignmentPending,
		Notes:     req.Notes,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.CreateAssignmentRequest(r.Context(), request); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, request)
}

// ListUsers lists users for administrators
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
	filter := ListUsersFilter{
		Search: r.URL.Query().Get("search"),
		Role:   r.URL.Query().Get("role"),
		Page:   pageNum,
	}

	users, page, err := h.repo.ListUsers(r.Context(), filter, 20)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": users,
		"page": page,
	})
}

// GetUser returns a single user for administrators
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	user, err := h.repo.FindUserByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// UpdateUser applies administrator edits: role, active flag, specialty
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	var req AdminUpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	user, err := h.repo.FindUserByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Role != nil {
		switch *req.Role {
		case auth.RolePatient, auth.RoleClinician, auth.RoleAdministrator:
			user.Role = *req.Role
		default:
			writeError(w, errors.BadRequest("invalid role"))
			return
		}
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.Specialty != nil {
		user.Specialty = *req.Specialty
	}

	if err := h.repo.UpdateUser(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// AssignDoctor sets a patient's clinician directly
func (h *Handler) AssignDoctor(w http.ResponseWriter, r *http.Request) {
	patientID, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	var req struct {
		DoctorID string `json:"doctor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	doctorID, err := types.ParseID(req.DoctorID)
	if err != nil {
		writeError(w, errors.BadRequest("invalid doctor ID"))
		return
	}

	if err := h.repo.AssignDoctor(r.Context(), patientID, doctorID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "assigned"})
}

// ListAssignmentRequests lists doctor assignment requests
func (h *Handler) ListAssignmentRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.repo.ListAssignmentRequests(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": requests})
}

// ReviewAssignmentRequest approves or rejects a pending request
func (h *Handler) ReviewAssignmentRequest(w http.ResponseWriter, r *http.Request) {
	admin := auth.GetUser(r.Context())
	if admin == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	id, err := types.ParseID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid request ID"))
		return
	}

	var req struct {
		Approve bool   `json:"approve"`
		Notes   string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	request, err := h.repo.FindAssignmentRequest(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if request.Status != AssignmentPending {
		writeError(w, errors.Conflict("request already reviewed"))
		return
	}

	now := time.Now().UTC()
	request.Status = AssignmentRejected
	if req.Approve {
		request.Status = AssignmentApproved
	}
	if req.Notes != "" {
		request.Notes = req.Notes
	}
	request.ReviewedBy = &admin.ID
	request.ReviewedAt = &now

	if err := h.repo.ReviewAssignmentRequest(r.Context(), request); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, request)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
