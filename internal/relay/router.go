package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/schoolyard/meetmesh/internal/config"
	"github.com/schoolyard/meetmesh/internal/domain"
)

// UserIDMiddleware pins a durable user id into the cookie session so a
// reconnecting browser keeps its identity across transport sessions.
func UserIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		uid, _ := s.Get("uid").(string)
		if uid == "" {
			uid = uuid.NewString()
			s.Set("uid", uid)
			if err := s.Save(); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("session save")
			}
		}
		c.Set("user_id", uid)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MeetMeshSession", store))
	r.Use(UserIDMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.POST("/rooms", hub.handleCreateRoom)
	api.GET("/ws/room/:room", func(c *gin.Context) {
		hub.HandleWS(ctx, c)
	})

	log.Info().Str("module", "relay").Msg("router setup")
	return r
}

type createRoomRequest struct {
	Name string `json:"name" binding:"omitempty,max=64"`
}

func (h *Hub) handleCreateRoom(c *gin.Context) {
	var req createRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
	}

	room := h.CreateRoom()
	resp := gin.H{"roomId": string(room.ID())}
	if h.cfg.RequireToken {
		user := domain.UserID(c.GetString("user_id"))
		token, err := MintToken(h.cfg.Secret, room.ID(), user, 24*time.Hour)
		if err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("mint token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token_mint_failed"})
			return
		}
		resp["token"] = token
	}
	c.JSON(http.StatusCreated, resp)
}
