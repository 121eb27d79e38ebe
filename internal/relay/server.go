package relay

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	// Native clients send no Origin; browsers are not served.
	CheckOrigin: func(*http.Request) bool { return true },
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the admin token.
type LoginResponse struct {
	Token string `json:"token"`
}

// NewRouter mounts the health check, admin login and websocket endpoints.
func NewRouter(hub *Hub, auth *Auth, production bool) *gin.Engine {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/auth/login", login(auth))
	}

	router.GET("/ws", ServeWs(hub))
	return router
}

func login(auth *Auth) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		token, err := auth.Login(req.Username, req.Password)
		if errors.Is(err, ErrBadCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
			return
		}
		c.JSON(http.StatusOK, LoginResponse{Token: token})
	}
}

// ServeWs upgrades the request and hands the connection to hub.
func ServeWs(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("websocket upgrade failed", "error", err)
			return
		}

		conn := newConn(hub, ws)
		select {
		case hub.register <- conn:
		case <-hub.done:
			ws.Close()
			return
		}

		go conn.writePump()
		go conn.readPump()
	}
}
