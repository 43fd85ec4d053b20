package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"uptime":    int64(time.Since(s.startedAt).Seconds()),
	})
}

type volatilityEntry struct {
	Symbol          string  `json:"symbol"`
	VolatilityScore float64 `json:"volatilityScore"`
	IsStable        bool    `json:"isStable"`
	Severity        string  `json:"severity"`
}

func (s *Server) handleBotStatus(c *gin.Context) {
	_, active := s.sessions.Count()

	totalUsers, accepted := 0, 0
	if s.users != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		var err error
		if totalUsers, err = s.users.CountUsers(ctx); err != nil {
			s.logger.Warn("User count unavailable", "error", err)
		}
		if accepted, err = s.users.CountAcceptedTerms(ctx); err != nil {
			s.logger.Warn("Accepted-terms count unavailable", "error", err)
		}
	}

	volData := make([]volatilityEntry, 0)
	var lastUpdate int64
	if s.vol != nil {
		for _, a := range s.vol.All() {
			volData = append(volData, volatilityEntry{
				Symbol:          a.Symbol,
				VolatilityScore: a.VolatilityScore,
				IsStable:        a.IsStable,
				Severity:        a.Severity,
			})
		}
		if t := s.vol.LastUpdate(); !t.IsZero() {
			lastUpdate = t.Unix()
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":               "running",
		"uptimeSeconds":        int64(time.Since(s.startedAt).Seconds()),
		"totalUsers":           totalUsers,
		"activeSessions":       active,
		"signalsGenerated":     s.sessions.SignalsGenerated(),
		"usersAcceptedTerms":   accepted,
		"lastVolatilityUpdate": lastUpdate,
		"volatilityData":       volData,
	})
}

func (s *Server) handleVolatility(c *gin.Context) {
	if s.vol == nil {
		c.JSON(http.StatusOK, []volatilityEntry{})
		return
	}
	out := make([]volatilityEntry, 0)
	for _, a := range s.vol.All() {
		out = append(out, volatilityEntry{
			Symbol:          a.Symbol,
			VolatilityScore: a.VolatilityScore,
			IsStable:        a.IsStable,
			Severity:        a.Severity,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleVolatilitySymbol(c *gin.Context) {
	symbol := c.Param("symbol")
	if s.vol == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no volatility data", "symbol": symbol})
		return
	}
	a, ok := s.vol.Get(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not tracked", "symbol": symbol})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessions.Active())
}

func (s *Server) handleSession(c *gin.Context) {
	id := c.Param("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "id": id})
		return
	}
	c.JSON(http.StatusOK, sess)
}
