// Package api exposes the operator's read-only HTTP surface: system status,
// positions, trades, score history and a websocket event stream. Everything
// except health, login and the websocket requires a bearer token obtained
// with the operator key.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"scorebot/internal/events"
	"scorebot/internal/portfolio"
	"scorebot/pkg/db"
)

// Meta is the static runtime information shown on the status endpoint.
type Meta struct {
	Venue     string
	DryRun    bool
	Watchlist []string
	Version   string
}

type Server struct {
	Router      *gin.Engine
	bus         *events.Bus
	store       *db.Database
	book        *portfolio.Manager
	meta        Meta
	jwtSecret   string
	operatorKey string
	log         zerolog.Logger
}

func NewServer(bus *events.Bus, store *db.Database, book *portfolio.Manager, meta Meta, jwtSecret, operatorKey string, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	s := &Server{
		Router:      r,
		bus:         bus,
		store:       store,
		book:        book,
		meta:        meta,
		jwtSecret:   jwtSecret,
		operatorKey: operatorKey,
		log:         log.With().Str("component", "api").Logger(),
	}

	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(requestLogger(s.log))
	r.Use(rateLimit())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/login", s.login)

		protected := api.Group("")
		protected.Use(authRequired(s.jwtSecret))
		{
			protected.GET("/status", s.getStatus)
			protected.GET("/positions", s.getPositions)
			protected.GET("/trades", s.getTrades)
			protected.GET("/scores/:ticker", s.getScores)
		}
	}
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getStatus(c *gin.Context) {
	count, err := s.book.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	lastRun, err := s.store.GetRunState(c.Request.Context(), "last_daily_run")
	if err != nil {
		lastRun = ""
	}
	c.JSON(http.StatusOK, gin.H{
		"venue":          s.meta.Venue,
		"dry_run":        s.meta.DryRun,
		"watchlist":      s.meta.Watchlist,
		"version":        s.meta.Version,
		"open_positions": count,
		"last_daily_run": lastRun,
		"time":           time.Now().UTC(),
	})
}

func (s *Server) getPositions(c *gin.Context) {
	positions, err := s.book.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(positions))
	for _, p := range positions {
		out = append(out, gin.H{
			"ticker":       p.Ticker,
			"quantity":     p.Quantity,
			"avg_cost":     p.AvgCost,
			"entry_date":   p.EntryDate,
			"entry_score":  p.EntryScore,
			"target_price": p.TargetPrice,
			"stop_loss":    p.StopLoss,
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) getTrades(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	trades, err := s.store.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(trades))
	for _, t := range trades {
		out = append(out, gin.H{
			"id":         t.ID,
			"ticker":     t.Ticker,
			"action":     t.Action,
			"quantity":   t.Quantity,
			"price":      t.Price,
			"total":      t.Total,
			"score":      t.Score,
			"reason":     t.Reason,
			"order_id":   t.OrderID,
			"created_at": t.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func (s *Server) getScores(c *gin.Context) {
	ticker := c.Param("ticker")
	limit := queryInt(c, "limit", 30)
	history, err := s.store.ScoreHistory(c.Request.Context(), ticker, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(history))
	for _, r := range history {
		out = append(out, gin.H{
			"date":         r.Date,
			"composite":    r.Composite,
			"fundamental":  r.Fundamental,
			"technical":    r.Technical,
			"sentiment":    r.Sentiment,
			"target_price": r.TargetPrice,
		})
	}
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "scores": out})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
