package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/polyvox/polyvox/internal/api/handlers"
	"github.com/polyvox/polyvox/internal/api/middleware"
)

type Deps struct {
	Meeting *handlers.MeetingHandler
	WS      *handlers.WSHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	r.GET("/languages", d.Meeting.Languages)

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth())

	auth.GET("/ws/meeting/:meeting_id", d.WS.MeetingWS)
	auth.GET("/ws/meeting/:meeting_id/participants", d.Meeting.Participants)
	auth.GET("/meeting/:meeting_id/utterances", d.Meeting.Utterances)
	auth.POST("/meeting/:meeting_id/end", middleware.RequireRole("host", "admin"), d.Meeting.End)
	auth.GET("/meeting/:meeting_id/segments/:utterance_id/url", middleware.RequireRole("host", "admin"), d.Meeting.SegmentURL)
}
