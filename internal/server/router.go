package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/swabra/internal/build"
	"github.com/loykin/swabra/internal/cleanup"
	"github.com/loykin/swabra/internal/handle"
	"github.com/loykin/swabra/internal/tools"
)

// Router provides embeddable HTTP handlers for the cleaner services.
// Endpoints:
//
//	GET    {basePath}/causes/:buildType         recent clean checkout causes
//	POST   {basePath}/events/build-finished     body: build.Run
//	POST   {basePath}/tools/required            body: build.Run
//	GET    {basePath}/tools/handle              installed handle.exe
//	POST   {basePath}/tools/handle/download     fetch and install handle.exe
//	POST   {basePath}/cleanup                   run a cleanup cycle (?async=1)
//	POST   {basePath}/cleanup/interrupt
//	GET    {basePath}/build-types
//	PUT    {basePath}/build-types/:id           body: build.BuildType
//	DELETE {basePath}/build-types/:id
//	GET    /metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	deps     Deps
	basePath string
	logger   *slog.Logger
}

// Causes is the causality side of the API.
type Causes interface {
	RecentCauses(ctx context.Context, owner string) ([]string, error)
	Forget(ctx context.Context, owner string) error
}

// Events publishes build lifecycle events.
type Events interface {
	PublishBuildFinished(ctx context.Context, run build.Run) error
}

// Requirements decides which tools a run needs on its agent.
type Requirements interface {
	RequiredTools(ctx context.Context, run build.Run) []handle.Version
}

// Tools manages the tool installed on the server.
type Tools interface {
	Installed() (tools.Installed, bool)
	Download(ctx context.Context) (tools.Installed, error)
}

// Cleanup runs server cleanup cycles.
type Cleanup interface {
	RunCycle(ctx context.Context) (cleanup.Report, error)
	StartCycle(ctx context.Context) error
	Interrupt() bool
}

// BuildTypes is a mutable build configuration registry.
type BuildTypes interface {
	build.Registry
	Add(bt build.BuildType) error
	Remove(id string) error
}

// Deps holds the services behind the API. Metrics is mounted at /metrics
// when set.
type Deps struct {
	Causes       Causes
	Events       Events
	Requirements Requirements
	Tools        Tools
	Cleanup      Cleanup
	BuildTypes   BuildTypes
	Metrics      http.Handler
	Logger       *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(deps Deps, basePath string) *Router {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Router{deps: deps, basePath: sanitizeBase(basePath), logger: l}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.deps.Metrics != nil {
		g.GET("/metrics", gin.WrapH(r.deps.Metrics))
	}
	group := g.Group(r.basePath)
	group.GET("/causes/:buildType", r.handleCauses)
	group.POST("/events/build-finished", r.handleBuildFinished)
	group.POST("/tools/required", r.handleToolsRequired)
	group.GET("/tools/handle", r.handleToolStatus)
	group.POST("/tools/handle/download", r.handleToolDownload)
	group.POST("/cleanup", r.handleCleanup)
	group.POST("/cleanup/interrupt", r.handleCleanupInterrupt)
	group.GET("/build-types", r.handleListBuildTypes)
	group.PUT("/build-types/:id", r.handlePutBuildType)
	group.DELETE("/build-types/:id", r.handleDeleteBuildType)
	return g
}

// NewServer creates a standalone HTTP server on addr using handler.
// A non-nil tlsCfg is attached for ListenAndServeTLS with empty file names.
// Write timeout is generous because downloads and cleanup cycles run inline.
func NewServer(addr string, handler http.Handler, tlsCfg *tls.Config) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type causesResp struct {
	BuildType string   `json:"build_type"`
	Causes    []string `json:"causes"`
}

type requiredResp struct {
	Required bool     `json:"required"`
	Tools    []string `json:"tools"`
}

type toolResp struct {
	Type      string `json:"type"`
	Installed bool   `json:"installed"`
	ID        string `json:"id,omitempty"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
}

type interruptResp struct {
	Interrupted bool `json:"interrupted"`
}

func (r *Router) handleCauses(c *gin.Context) {
	id := c.Param("buildType")
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid build type id"})
		return
	}
	causes, err := r.deps.Causes.RecentCauses(c.Request.Context(), id)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, causesResp{BuildType: id, Causes: causes})
}

func (r *Router) handleBuildFinished(c *gin.Context) {
	var run build.Run
	if err := c.ShouldBindJSON(&run); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if run.BuildTypeID != "" && !isSafeName(run.BuildTypeID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid build type id"})
		return
	}
	if err := r.deps.Events.PublishBuildFinished(c.Request.Context(), run); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleToolsRequired(c *gin.Context) {
	var run build.Run
	if err := c.ShouldBindJSON(&run); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	versions := r.deps.Requirements.RequiredTools(c.Request.Context(), run)
	resp := requiredResp{Required: len(versions) > 0, Tools: make([]string, 0, len(versions))}
	for _, v := range versions {
		resp.Tools = append(resp.Tools, v.ID())
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleToolStatus(c *gin.Context) {
	resp := toolResp{Type: handle.Type.Key}
	if inst, ok := r.deps.Tools.Installed(); ok {
		resp.Installed = true
		resp.ID = inst.ID
		resp.Version = inst.Version
		resp.Path = inst.Path
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleToolDownload(c *gin.Context) {
	inst, err := r.deps.Tools.Download(c.Request.Context())
	if err != nil {
		code := http.StatusInternalServerError
		var fe *handle.FetchError
		var ve *handle.ValidationError
		switch {
		case errors.As(err, &fe):
			code = http.StatusBadGateway
		case errors.As(err, &ve):
			code = http.StatusUnprocessableEntity
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, toolResp{Type: handle.Type.Key, Installed: true, ID: inst.ID, Version: inst.Version, Path: inst.Path})
}

func (r *Router) handleCleanup(c *gin.Context) {
	if c.Query("async") != "" {
		err := r.deps.Cleanup.StartCycle(context.Background())
		if errors.Is(err, cleanup.ErrCycleRunning) {
			writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
			return
		}
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusAccepted, okResp{OK: true})
		return
	}
	report, err := r.deps.Cleanup.RunCycle(c.Request.Context())
	if errors.Is(err, cleanup.ErrCycleRunning) {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, report)
}

func (r *Router) handleCleanupInterrupt(c *gin.Context) {
	writeJSON(c, http.StatusOK, interruptResp{Interrupted: r.deps.Cleanup.Interrupt()})
}

func (r *Router) handleListBuildTypes(c *gin.Context) {
	types, err := r.deps.BuildTypes.ActiveBuildTypes(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, types)
}

func (r *Router) handlePutBuildType(c *gin.Context) {
	id := c.Param("id")
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid build type id"})
		return
	}
	var bt build.BuildType
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&bt); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	if bt.ID != "" && bt.ID != id {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "id in body does not match path"})
		return
	}
	bt.ID = id
	if err := r.deps.BuildTypes.Add(bt); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, bt)
}

// handleDeleteBuildType removes the configuration and the causes it owns.
// Records naming it as a cause are left to the next cleanup cycle.
func (r *Router) handleDeleteBuildType(c *gin.Context) {
	id := c.Param("id")
	if !isSafeName(id) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid build type id"})
		return
	}
	if err := r.deps.BuildTypes.Remove(id); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, build.ErrUnknownBuildType) {
			code = http.StatusNotFound
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	if err := r.deps.Causes.Forget(c.Request.Context(), id); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
