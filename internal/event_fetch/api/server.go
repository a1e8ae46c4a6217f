package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"event-fetch/internal/event_fetch/registry"
	"event-fetch/internal/event_fetch/storage"
)

type Server struct {
	Store    storage.Store
	Sources  []registry.Source
	Enriched bool             // 是否配置了可用的补全 provider
	Now      func() time.Time // 可注入的参考时间（now 覆盖 / 测试）
}

func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	r.GET("/events", s.listEvents) // ?week=current|next|all&location=&type=&price=&page=1&limit=50
	r.GET("/sources", s.listSources)
	r.GET("/health", s.health)
	return r
}

func (s *Server) listEvents(c *gin.Context) {
	f := storage.Filter{
		Week:     c.DefaultQuery("week", "current"),
		Location: c.Query("location"),
		Category: c.Query("type"),
		Price:    c.Query("price"),
	}
	if s.Now != nil {
		f.Now = s.Now()
	}

	events, err := s.Store.Query(c, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	start := (page - 1) * limit
	end := start + limit
	if start > len(events) {
		start = len(events)
	}
	if end > len(events) {
		end = len(events)
	}

	c.JSON(http.StatusOK, gin.H{
		"week":  f.WeekIdentifier(),
		"total": len(events),
		"data":  events[start:end],
		"page":  page,
		"limit": limit,
	})
}

func (s *Server) listSources(c *gin.Context) {
	type sourceInfo struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		BaseURL string `json:"base_url"`
	}
	out := make([]sourceInfo, 0, len(s.Sources))
	for _, src := range s.Sources {
		out = append(out, sourceInfo{ID: src.ID, Name: src.Name, BaseURL: src.BaseURL})
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) health(c *gin.Context) {
	if p, ok := s.Store.(interface{ Ping(ctx context.Context) error }); ok {
		if err := p.Ping(c); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "enrichment": s.Enriched})
}
