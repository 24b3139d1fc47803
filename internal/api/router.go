// Package api serves a processed archive read-only over HTTP: the records and
// users as JSON, URL cache lookups over JSON-RPC and the grailbird tree as
// static files.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/internal/archive"
	"github.com/tweetarchive/tweets/internal/db"
	"github.com/tweetarchive/tweets/internal/models"
	"github.com/tweetarchive/tweets/internal/urlcache"
	"github.com/tweetarchive/tweets/pkg/logging"
)

// maxPage bounds the records of one listing
const maxPage = 500

// Source is what the server exposes. Any field may be empty.
type Source struct {
	Records archive.Set
	Users   models.Users
	URLs    *urlcache.Cache
	// GrailbirdDir is served under /grailbird when set
	GrailbirdDir string
	// DB is pinged by the health check when set
	DB *db.DB
}

// Router sets up API routes
type Router struct {
	handler *JSONRPCHandler
	src     Source
	ids     []int64
	logger  *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(src Source) *Router {
	if src.Records == nil {
		src.Records = archive.Set{}
	}
	if src.Users == nil {
		src.Users = models.Users{}
	}
	router := &Router{
		handler: NewJSONRPCHandler(),
		src:     src,
		ids:     src.Records.IDs(),
		logger:  logging.WithComponent("api-router"),
	}
	router.registerMethods()
	return router
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	engine.GET("/records", r.listRecordsHandler)
	engine.GET("/records/:id", r.getRecordHandler)
	engine.GET("/users/:screen_name", r.getUserHandler)

	if r.src.GrailbirdDir != "" {
		engine.Static("/grailbird", r.src.GrailbirdDir)
	}

	engine.POST("/", r.handler.Handle)
}

func (r *Router) registerMethods() {
	r.handler.RegisterMethod("tweets.count", r.count)
	r.handler.RegisterMethod("tweets.get_record", r.getRecord)
	r.handler.RegisterMethod("tweets.list_records", r.listRecords)
	r.handler.RegisterMethod("users.get_user", r.getUser)
	r.handler.RegisterMethod("urls.lookup", r.lookupURL)
	r.handler.RegisterMethod("rpc.methods", func(c *gin.Context, params json.RawMessage) (interface{}, error) {
		return r.handler.Methods(), nil
	})
}

func (r *Router) healthHandler(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":  "OK",
		"service": "tweets-preview",
		"records": len(r.ids),
	}
	if r.src.DB != nil {
		if err := r.src.DB.Health(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "DEGRADED"
			body["database"] = err.Error()
		}
	}
	c.JSON(status, body)
}

// page returns the records in [offset, offset+limit) by ascending id
func (r *Router) page(offset, limit int) []*models.Record {
	if limit <= 0 || limit > maxPage {
		limit = maxPage
	}
	if offset < 0 || offset >= len(r.ids) {
		return []*models.Record{}
	}
	end := offset + limit
	if end > len(r.ids) {
		end = len(r.ids)
	}
	out := make([]*models.Record, 0, end-offset)
	for _, id := range r.ids[offset:end] {
		out = append(out, r.src.Records[id])
	}
	return out
}

func (r *Router) listRecordsHandler(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	c.JSON(http.StatusOK, gin.H{
		"total":   len(r.ids),
		"offset":  offset,
		"records": r.page(offset, limit),
	})
}

func (r *Router) getRecordHandler(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	rec, ok := r.src.Records[id]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) getUserHandler(c *gin.Context) {
	u, ok := r.src.Users.Get(c.Param("screen_name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, u)
}

func (r *Router) count(c *gin.Context, params json.RawMessage) (interface{}, error) {
	return gin.H{"records": len(r.ids), "users": len(r.src.Users)}, nil
}

func (r *Router) getRecord(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		ID models.FlexInt `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams("expected {\"id\": ...}: %v", err)
	}
	rec, ok := r.src.Records[p.ID.Int64()]
	if !ok {
		return nil, NewError(ErrNotFound, "record not found")
	}
	return rec, nil
}

func (r *Router) listRecords(c *gin.Context, params json.RawMessage) (interface{}, error) {
	p := struct {
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	}{Limit: 100}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams("expected {\"offset\": n, \"limit\": n}: %v", err)
		}
	}
	return r.page(p.Offset, p.Limit), nil
}

func (r *Router) getUser(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		ScreenName string `json:"screen_name"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ScreenName == "" {
		return nil, invalidParams("expected {\"screen_name\": ...}")
	}
	u, ok := r.src.Users.Get(p.ScreenName)
	if !ok {
		return nil, NewError(ErrNotFound, "user not found")
	}
	return u, nil
}

// lookupURL returns the cached resolution of a URL: a destination string, a
// status code, or null while pending.
func (r *Router) lookupURL(c *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.URL == "" {
		return nil, invalidParams("expected {\"url\": ...}")
	}
	if r.src.URLs == nil {
		return nil, NewError(ErrNotFound, "no url cache loaded")
	}
	v, ok := r.src.URLs.Get(p.URL)
	if !ok {
		return nil, NewError(ErrNotFound, "url not cached")
	}
	return gin.H{"url": p.URL, "value": v}, nil
}
