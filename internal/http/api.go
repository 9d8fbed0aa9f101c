package http

import (
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gild/internal/apperr"
	"gild/internal/audit"
	"gild/internal/auth"
	"gild/internal/domain"
	"gild/internal/service"
	"gild/internal/storage"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	users    service.UserService
	audits   service.AuditService
	auth     *auth.Authenticator
	recorder *audit.Recorder
	archiver *audit.Archiver
	logger   *logrus.Logger
	started  time.Time
}

func NewHandler(users service.UserService, audits service.AuditService, authenticator *auth.Authenticator, recorder *audit.Recorder, archiver *audit.Archiver, logger *logrus.Logger) *Handler {
	return &Handler{
		users:    users,
		audits:   audits,
		auth:     authenticator,
		recorder: recorder,
		archiver: archiver,
		logger:   logger,
		started:  time.Now(),
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestID(), requestLogger(h.logger))

	audited := audit.Middleware(h.recorder)
	required := h.auth.Required()
	optional := h.auth.Optional()

	session := router.Group("/session")
	{
		session.POST("/login", audited, h.login)
		session.GET("/me", required, h.me)
	}

	router.PUT("/users", audited, optional, h.createUser)
	router.GET("/users", required, h.listUsers)
	router.GET("/user/:id", required, h.getUser)
	router.POST("/user/:id", audited, required, h.updateUser)
	router.DELETE("/user/:id", audited, required, h.deleteUser)

	router.GET("/status/ping", optional, h.ping)

	router.GET("/audit", required, h.listAudit)
	router.GET("/audit/archive", required, h.listArchives)
	router.POST("/audit/archive", audited, required, h.archiveAudit)
}

type TokenResponse struct {
	Token   string `json:"token"`
	Expires string `json:"expires"`
}

type UserResponse struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Realname *string `json:"realname,omitempty"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
}

type PingResponse struct {
	Info *PingInfo `json:"info,omitempty"`
}

type PingInfo struct {
	HostName  string `json:"host_name"`
	Uptime    string `json:"uptime"`
	CPUs      int    `json:"cpus"`
	GoVersion string `json:"go_version"`
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func (h *Handler) login(c *gin.Context) {
	payload := gin.H{}
	draft := audit.FromContext(c)
	draft.Describe("login", payload)

	var creds service.Credentials
	err := c.ShouldBind(&creds)
	if creds.Username != "" {
		payload["username"] = creds.Username
	}
	if err != nil {
		h.fail(c, apperr.FromBinding(err))
		return
	}

	user, err := h.users.Login(c.Request.Context(), creds)
	if err != nil {
		h.fail(c, err)
		return
	}
	draft.SetUser(user.ID)

	token, session, err := h.auth.Issue(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		Token:   token,
		Expires: session.Expires.Format(time.RFC3339),
	})
}

func (h *Handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, userToResponse(*auth.CurrentUser(c)))
}

func (h *Handler) createUser(c *gin.Context) {
	var req service.NewUser
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.FromBinding(err))
		return
	}

	audit.FromContext(c).Describe("create user", userPayload(req.Username, req.Realname, req.Email, req.Phone))

	user, err := h.users.Create(c.Request.Context(), auth.CurrentUser(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, userToResponse(*user))
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := make([]UserResponse, len(users))
	for i := range users {
		resp[i] = userToResponse(users[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getUser(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}

	user, err := h.users.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(*user))
}

func (h *Handler) updateUser(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}

	var req service.UserUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.FromBinding(err))
		return
	}

	payload := userPayload("", req.Realname, req.Email, req.Phone)
	payload["id"] = id
	payload["password_changed"] = req.Password != nil
	audit.FromContext(c).Describe("update user", payload)

	user, err := h.users.Update(c.Request.Context(), id, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(*user))
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := h.userID(c)
	if !ok {
		return
	}

	audit.FromContext(c).Describe("delete user", gin.H{"id": id})

	if err := h.users.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ping(c *gin.Context) {
	if auth.CurrentUser(c) == nil {
		c.JSON(http.StatusOK, PingResponse{})
		return
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	c.JSON(http.StatusOK, PingResponse{Info: &PingInfo{
		HostName:  host,
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		CPUs:      runtime.NumCPU(),
		GoVersion: runtime.Version(),
	}})
}

func (h *Handler) listAudit(c *gin.Context) {
	query, ok := h.auditQuery(c)
	if !ok {
		return
	}

	entries, err := h.audits.List(c.Request.Context(), query)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, audit.NewRecords(entries))
}

func (h *Handler) archiveAudit(c *gin.Context) {
	query, ok := h.auditQuery(c)
	if !ok {
		return
	}

	payload := gin.H{"page": query.Page, "per_page": query.PerPage}
	if query.Since != nil {
		payload["since"] = query.Since.Format(time.RFC3339Nano)
	}
	audit.FromContext(c).Describe("archive audit log", payload)

	result, err := h.archiver.Archive(c.Request.Context(), query)
	if err != nil {
		h.fail(c, err)
		return
	}
	payload["location"] = result.Location
	payload["count"] = result.Count
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listArchives(c *gin.Context) {
	objects, err := h.archiver.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, apperr.Validation("invalid request", "invalid user id"))
		return 0, false
	}
	return id, true
}

func (h *Handler) auditQuery(c *gin.Context) (domain.AuditQuery, bool) {
	var query domain.AuditQuery

	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			h.fail(c, apperr.Validation("invalid request", "since must be an RFC3339 timestamp"))
			return query, false
		}
		query.Since = &since
	}
	for name, dst := range map[string]*int{"page": &query.Page, "per_page": &query.PerPage} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(c, apperr.Validation("invalid request", name+" must be a non-negative integer"))
			return query, false
		}
		*dst = n
	}
	return service.NormalizeAuditQuery(query), true
}

// fail records err on the context for the audit trail and renders it.
func (h *Handler) fail(c *gin.Context, err error) {
	appErr := apperr.From(err)
	_ = c.Error(appErr)

	entry := h.logger.WithFields(logrus.Fields{
		"request_id": c.GetString(requestIDKey),
		"endpoint":   c.FullPath(),
		"kind":       appErr.Kind.String(),
	}).WithError(appErr)
	switch appErr.Kind {
	case apperr.KindInternal:
		entry.Error("request failed")
	case apperr.KindInvalidCredentials, apperr.KindExpiredSession:
		entry.Info("authentication failed")
	default:
		entry.Debug("request rejected")
	}

	c.AbortWithStatusJSON(appErr.Status(), appErr.Body())
}

func userPayload(username string, realname, email, phone *string) gin.H {
	payload := gin.H{}
	if username != "" {
		payload["username"] = username
	}
	if realname != nil {
		payload["realname"] = *realname
	}
	if email != nil {
		payload["email"] = *email
	}
	if phone != nil {
		payload["phone"] = *phone
	}
	return payload
}

func userToResponse(user domain.User) UserResponse {
	return UserResponse{
		ID:       user.ID,
		Username: user.Username,
		Realname: user.Realname,
		Email:    user.Email,
		Phone:    user.Phone,
	}
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}
