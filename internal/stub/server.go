package stub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"sokochat/internal/domain/chat"
	"sokochat/internal/infra/auth"
)

// Server wires the REST endpoints and the websocket room hub over the
// in-memory store.
type Server struct {
	store  *Store
	hub    *Hub
	tokens auth.Tokens
	logger *slog.Logger
}

// NewServer builds the stub application.
func NewServer(store *Store, tokens auth.Tokens, logger *slog.Logger) *Server {
	return &Server{
		store:  store,
		hub:    NewHub(logger),
		tokens: tokens,
		logger: logger,
	}
}

// Handler assembles the gin router.
func (s *Server) Handler(env string) http.Handler {
	if env != "dev" && env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key", "X-Request-ID"},
		MaxAge:       12 * time.Hour,
	}))

	router.POST("/api/auth/login/", s.login)

	api := router.Group("/api", s.requireUser)
	api.POST("/conversations/", s.createConversation)
	api.GET("/conversations/:id/", s.getConversation)
	api.POST("/conversations/:id/mark_seen/", s.markSeen)
	api.POST("/messages/", s.sendMessage)
	api.GET("/products/:id/", s.getProduct)
	api.GET("/sellers/:id/", s.getSeller)

	router.GET("/ws/chat/:id/", s.serveWS)
	return router
}

// requireUser authenticates the bearer token and stashes the user id.
func (s *Server) requireUser(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" || token == c.GetHeader("Authorization") {
		token = c.Query("token")
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "authentication required"})
		return
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid token"})
		return
	}
	id, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid token subject"})
		return
	}
	c.Set("user_id", chat.UserID(id))
	c.Next()
}

func viewer(c *gin.Context) chat.UserID {
	return c.MustGet("user_id").(chat.UserID)
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid payload"})
		return
	}
	userID, err := s.store.Authenticate(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid credentials"})
		return
	}
	access, err := s.tokens.Issue(userID)
	if err != nil {
		s.logger.Error("token issue failed", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "cannot issue token"})
		return
	}
	refresh, _ := s.tokens.Issue(userID)
	c.JSON(http.StatusOK, gin.H{
		"access":  access,
		"refresh": refresh,
		"user":    gin.H{"id": userID, "username": req.Username},
	})
}

func (s *Server) createConversation(c *gin.Context) {
	var req struct {
		SellerID  chat.SellerID   `json:"seller_id"`
		ProductID *chat.ProductID `json:"product_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.SellerID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "seller_id is required"})
		return
	}
	conv, err := s.store.GetOrCreateConversation(viewer(c), req.SellerID, req.ProductID)
	if err != nil {
		if errors.Is(err, errSelfConversation) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": chat.SelfConversationDetail})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (s *Server) getConversation(c *gin.Context) {
	id, ok := s.conversationParam(c)
	if !ok {
		return
	}
	user := viewer(c)
	if !s.store.IsParticipant(id, user) {
		c.JSON(http.StatusForbidden, gin.H{"detail": "not a conversation participant"})
		return
	}
	conv, err := s.store.ConversationSnapshot(id, user)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) markSeen(c *gin.Context) {
	id, ok := s.conversationParam(c)
	if !ok {
		return
	}
	user := viewer(c)
	if !s.store.IsParticipant(id, user) {
		c.JSON(http.StatusForbidden, gin.H{"detail": "not a conversation participant"})
		return
	}
	s.applyMarkSeen(id, user)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// applyMarkSeen promotes the other side's messages to read and fans out the
// resulting updates plus the viewer's refreshed participant state.
func (s *Server) applyMarkSeen(id chat.ConversationID, user chat.UserID) {
	changed, state := s.store.MarkSeen(id, user)
	for _, msg := range changed {
		s.hub.Broadcast(id, chat.MessageUpdatedEvent{Message: msg})
	}
	s.hub.Broadcast(id, chat.TypingEvent{State: state})
}

func (s *Server) sendMessage(c *gin.Context) {
	var req struct {
		Conversation chat.ConversationID `json:"conversation"`
		Text         string              `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid payload"})
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "text is required"})
		return
	}
	user := viewer(c)
	msg, err := s.store.AppendMessage(req.Conversation, user, req.Text)
	if err != nil {
		if errors.Is(err, errNotParticipant) {
			c.JSON(http.StatusForbidden, gin.H{"detail": "not a conversation participant"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	s.hub.Broadcast(req.Conversation, chat.MessageCreatedEvent{Message: msg})
	// Someone from the other side has the room open: promote to delivered.
	if s.hub.OtherConnected(req.Conversation, user) {
		if updated, ok := s.store.AdvanceStatus(req.Conversation, msg.ID, chat.StatusDelivered); ok {
			s.hub.Broadcast(req.Conversation, chat.MessageUpdatedEvent{Message: updated})
		}
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) getProduct(c *gin.Context) {
	raw, err := strconv.ParseInt(strings.TrimSuffix(c.Param("id"), "/"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid product id"})
		return
	}
	product, ok := s.store.Product(chat.ProductID(raw))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "product not found"})
		return
	}
	c.JSON(http.StatusOK, product)
}

func (s *Server) getSeller(c *gin.Context) {
	raw, err := strconv.ParseInt(strings.TrimSuffix(c.Param("id"), "/"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid seller id"})
		return
	}
	seller, ok := s.store.Seller(chat.SellerID(raw))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "seller not found"})
		return
	}
	c.JSON(http.StatusOK, seller)
}

func (s *Server) conversationParam(c *gin.Context) (chat.ConversationID, bool) {
	raw, err := strconv.ParseInt(strings.TrimSuffix(c.Param("id"), "/"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid conversation id"})
		return 0, false
	}
	return chat.ConversationID(raw), true
}

// serveWS upgrades the live channel for one conversation. The token rides a
// query parameter because browsers cannot set headers at upgrade time.
func (s *Server) serveWS(c *gin.Context) {
	id, ok := s.conversationParam(c)
	if !ok {
		return
	}
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid token"})
		return
	}
	rawUser, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid token subject"})
		return
	}
	user := chat.UserID(rawUser)
	if !s.store.IsParticipant(id, user) {
		c.JSON(http.StatusForbidden, gin.H{"detail": "not a conversation participant"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "conversation", id, "error", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, 256), user: user}
	s.hub.register(id, client)
	go client.writePump()

	s.hub.sendTo(client, chat.ConnectionEvent{Conversation: id, User: user})
	// Entering the room counts as seeing it.
	s.applyMarkSeen(id, user)

	go s.readPump(id, client)
}

func (s *Server) readPump(id chat.ConversationID, client *wsClient) {
	defer func() {
		s.hub.unregister(id, client)
		client.conn.Close()
		// Leaving the room clears the typing flag for everyone else.
		state := s.store.SetTyping(id, client.user, false)
		s.hub.Broadcast(id, chat.TypingEvent{State: state})
	}()
	client.conn.SetReadLimit(maxIntentBytes)
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var in intent
		if err := json.Unmarshal(data, &in); err != nil {
			s.logger.Warn("dropping malformed intent", "conversation", id, "error", err)
			continue
		}
		switch in.Action {
		case chat.ActionJoin:
			snapshot, err := s.store.ConversationSnapshot(id, client.user)
			if err != nil {
				continue
			}
			s.hub.sendTo(client, chat.BulkStateEvent{
				Messages:          snapshot.Messages,
				ParticipantStates: snapshot.ParticipantStates,
			})
		case chat.ActionTyping:
			state := s.store.SetTyping(id, client.user, in.IsTyping)
			s.hub.Broadcast(id, chat.TypingEvent{State: state})
		default:
			s.logger.Warn("unknown intent action", "conversation", id, "action", in.Action)
		}
	}
}
