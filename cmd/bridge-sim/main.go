package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// simKey mirrors the bridge's message key envelope.
type simKey struct {
	ID          string `json:"id"`
	RemoteJid   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	Participant string `json:"participant,omitempty"`
	SenderPN    string `json:"senderPn,omitempty"`
}

type simMessage struct {
	Key              simKey `json:"key"`
	PushName         string `json:"pushName,omitempty"`
	Message          gin.H  `json:"message"`
	MessageTimestamp int64  `json:"messageTimestamp"`
}

type sendTextRequest struct {
	Number  string `json:"number" binding:"required"`
	Text    string `json:"text" binding:"required"`
	Options gin.H  `json:"options"`
}

type findMessagesRequest struct {
	Where struct {
		Key struct {
			RemoteJid string `json:"remoteJid"`
		} `json:"key"`
	} `json:"where"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// MockBridge keeps an in-memory per-jid message history and a mutable
// connection state so reconnect flows can be exercised locally.
type MockBridge struct {
	mu          sync.Mutex
	state       string
	apiKey      string
	successRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	history     map[string][]simMessage
	rng         *rand.Rand
}

func NewMockBridge(apiKey string, successRate float64, minDelay, maxDelay time.Duration) *MockBridge {
	return &MockBridge{
		state:       "open",
		apiKey:      apiKey,
		successRate: successRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		history:     make(map[string][]simMessage),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *MockBridge) randomDelay() time.Duration {
	if b.maxDelay <= b.minDelay {
		return b.minDelay
	}
	return b.minDelay + time.Duration(b.rng.Int63n(int64(b.maxDelay-b.minDelay)))
}

func (b *MockBridge) record(jid string, msg simMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Newest first, the way the bridge pages history.
	b.history[jid] = append([]simMessage{msg}, b.history[jid]...)
}

func (b *MockBridge) page(jid string, limit, offset int) []simMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.history[jid]
	if offset >= len(msgs) {
		return []simMessage{}
	}
	end := offset + limit
	if limit <= 0 || end > len(msgs) {
		end = len(msgs)
	}
	return msgs[offset:end]
}

type Handler struct {
	bridge *MockBridge
}

func NewHandler(bridge *MockBridge) *Handler {
	return &Handler{bridge: bridge}
}

func (h *Handler) auth(c *gin.Context) {
	if h.bridge.apiKey != "" && c.GetHeader("apikey") != h.bridge.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}
	c.Next()
}

// SendText accepts an outbound text and returns the generated wam id, or an
// empty confirmation on a simulated silent failure.
func (h *Handler) SendText(c *gin.Context) {
	instance := c.Param("instance")

	var req sendTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	if h.bridge.state != "open" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance is not connected", "state": h.bridge.state})
		return
	}

	time.Sleep(h.bridge.randomDelay())

	if h.bridge.rng.Float64() >= h.bridge.successRate {
		log.Warn().Str("instance", instance).Str("number", req.Number).Msg("simulated unconfirmed send")
		c.JSON(http.StatusCreated, gin.H{"key": gin.H{}})
		return
	}

	jid := req.Number
	if !strings.Contains(jid, "@") {
		jid = jid + "@s.whatsapp.net"
	}

	msg := simMessage{
		Key: simKey{
			ID:        strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:22],
			RemoteJid: jid,
			FromMe:    true,
		},
		Message:          gin.H{"conversation": req.Text},
		MessageTimestamp: time.Now().Unix(),
	}
	h.bridge.record(jid, msg)

	log.Info().
		Str("instance", instance).
		Str("jid", jid).
		Str("wam_id", msg.Key.ID).
		Msg("text delivered")

	c.JSON(http.StatusCreated, gin.H{
		"key":    gin.H{"id": msg.Key.ID, "remoteJid": jid, "fromMe": true},
		"status": "PENDING",
	})
}

// FindMessages pages the stored history of one jid, newest first, wrapped in
// the records envelope the real bridge uses.
func (h *Handler) FindMessages(c *gin.Context) {
	instance := c.Param("instance")

	var req findMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	jid := req.Where.Key.RemoteJid
	if jid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "where.key.remoteJid is required"})
		return
	}

	records := h.bridge.page(jid, req.Limit, req.Offset)

	log.Info().
		Str("instance", instance).
		Str("jid", jid).
		Int("records", len(records)).
		Msg("history page served")

	c.JSON(http.StatusOK, gin.H{
		"messages": gin.H{
			"total":   len(h.bridge.history[jid]),
			"records": records,
		},
	})
}

// FetchInstances reports the simulated connection state in the array shape.
func (h *Handler) FetchInstances(c *gin.Context) {
	c.JSON(http.StatusOK, []gin.H{
		{
			"instance": gin.H{
				"instanceName": c.Query("instanceName"),
				"status":       h.bridge.state,
			},
		},
	})
}

// SeedInbound injects a fake inbound message into the history so backfill
// and webhook flows can be exercised without a real phone.
func (h *Handler) SeedInbound(c *gin.Context) {
	var req struct {
		RemoteJid   string `json:"remoteJid" binding:"required"`
		Text        string `json:"text" binding:"required"`
		PushName    string `json:"pushName"`
		Participant string `json:"participant"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	msg := simMessage{
		Key: simKey{
			ID:          strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:22],
			RemoteJid:   req.RemoteJid,
			FromMe:      false,
			Participant: req.Participant,
		},
		PushName:         req.PushName,
		Message:          gin.H{"conversation": req.Text},
		MessageTimestamp: time.Now().Unix(),
	}
	h.bridge.record(req.RemoteJid, msg)

	c.JSON(http.StatusCreated, gin.H{"key": msg.Key})
}

// SetState flips the simulated connection state ("open", "connecting",
// "close") to exercise the disconnected send path.
func (h *Handler) SetState(c *gin.Context) {
	var req struct {
		State string `json:"state" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	h.bridge.state = req.State
	log.Info().Str("state", req.State).Msg("connection state updated")
	c.JSON(http.StatusOK, gin.H{"state": h.bridge.state})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	authed := router.Group("/", handler.auth)
	{
		authed.POST("/message/sendText/:instance", handler.SendText)
		authed.POST("/chat/findMessages/:instance", handler.FindMessages)
		authed.GET("/instance/fetchInstances", handler.FetchInstances)
	}

	// Simulator-only controls.
	sim := router.Group("/sim")
	{
		sim.POST("/seed", handler.SeedInbound)
		sim.PUT("/state", handler.SetState)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "state": handler.bridge.state, "timestamp": time.Now()})
	})

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8080")
	apiKey := getEnv("API_KEY", "")
	successRate := getEnvFloat("SUCCESS_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 100*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 1200*time.Millisecond)

	log.Info().
		Str("port", port).
		Float64("success_rate", successRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting WhatsApp bridge simulator")

	bridge := NewMockBridge(apiKey, successRate, minDelay, maxDelay)
	handler := NewHandler(bridge)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
