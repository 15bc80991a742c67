package api

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/activation"
	"github.com/aiqnetlab/qnet-node/internal/config"
	"github.com/aiqnetlab/qnet-node/internal/consensus"
	"github.com/aiqnetlab/qnet-node/internal/db"
	"github.com/aiqnetlab/qnet-node/internal/pipeline"
	"github.com/aiqnetlab/qnet-node/internal/qnerr"
	"github.com/aiqnetlab/qnet-node/internal/reputation"
	"github.com/aiqnetlab/qnet-node/internal/rewards"
	"github.com/aiqnetlab/qnet-node/internal/security"
	"github.com/aiqnetlab/qnet-node/internal/shard"
	"github.com/aiqnetlab/qnet-node/pkg/models"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gin-gonic/gin"
)

// APIHandler is the ingress RPC surface (spec §6): it only calls into the
// already-wired component packages, never holds business logic itself —
// a thin-handler/fat-service split.
type APIHandler struct {
	cfg         config.Config
	store       *db.Store
	reputation  *reputation.Registry
	activation  *activation.Ledger
	consensus   *consensus.Engine
	rewards     *rewards.Engine
	shards      *shard.Coordinator
	mempool     *pipeline.Queue
	envelope    *security.Envelope
	wsHub       *Hub
}

// SetupRouter builds the Gin engine: public health/stream endpoints plus
// the authenticated RPC group, split into a public route group and a
// protected one.
func SetupRouter(
	cfg config.Config,
	store *db.Store,
	rep *reputation.Registry,
	act *activation.Ledger,
	cons *consensus.Engine,
	rew *rewards.Engine,
	shards *shard.Coordinator,
	mempool *pipeline.Queue,
	envelope *security.Envelope,
	wsHub *Hub,
	adminToken string,
) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Authorization, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	h := &APIHandler{
		cfg:        cfg,
		store:      store,
		reputation: rep,
		activation: act,
		consensus:  cons,
		rewards:    rew,
		shards:     shards,
		mempool:    mempool,
		envelope:   envelope,
		wsHub:      wsHub,
	}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", h.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
		pub.GET("/status", h.handleGetStatus)
		pub.GET("/prices", h.handleGetCurrentPrices)
		pub.GET("/nonce", h.handleIssueNonce)
	}

	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware(cfg, adminToken))
	auth.Use(EnvelopeMiddleware(envelope))
	{
		auth.POST("/tx", h.handleSubmitTransaction)
		auth.POST("/consensus/commit", h.handleSubmitCommit)
		auth.POST("/consensus/reveal", h.handleSubmitReveal)
		auth.POST("/ping", h.handlePingResponse)
		auth.POST("/activation", h.handleRecordActivation)
		auth.GET("/block/:kind/:height", h.handleGetBlock)
		auth.GET("/shard/:id", h.handleGetShardStats)
		auth.GET("/shard/cross/stats", h.handleGetCrossShardStats)
		auth.GET("/pool", h.handleGetPoolState)
	}

	return r
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *APIHandler) handleGetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"phase":       h.activation.PhaseState(),
		"poolState":   h.rewards.PoolState(),
		"crossShard":  h.shards.GetCrossShardStats(),
		"mempoolSize": h.mempool.Len(),
	})
}

func (h *APIHandler) handleGetCurrentPrices(c *gin.Context) {
	out := gin.H{}
	for _, nt := range []models.NodeType{models.NodeTypeLight, models.NodeTypeFull, models.NodeTypeSuper} {
		price, err := h.activation.CurrentPrice(nt)
		if err != nil {
			continue
		}
		out[string(nt)] = price
	}
	c.JSON(http.StatusOK, out)
}

// handleIssueNonce mints a single-use X-Nonce token a client must echo back
// on its next state-mutating request; EnvelopeMiddleware consumes it.
func (h *APIHandler) handleIssueNonce(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"nonce": h.envelope.IssueNonce(time.Now())})
}

type submitTransactionRequest struct {
	From   models.Address `json:"from" binding:"required"`
	To     models.Address `json:"to" binding:"required"`
	Amount int64          `json:"amount" binding:"required"`
	Nonce  uint64         `json:"nonce"`
}

// handleSubmitTransaction enqueues a transfer onto the mempool; the Block
// Pipeline Producer drains and applies it on its own tick, keeping the RPC
// path non-blocking on shard locks.
func (h *APIHandler) handleSubmitTransaction(c *gin.Context) {
	var req submitTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.mempool.Submit(pipeline.Transfer{From: req.From, To: req.To, Amount: req.Amount, Nonce: req.Nonce})
	if err != nil {
		writeTypedError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

type submitCommitRequest struct {
	RoundNumber uint64        `json:"roundNumber"`
	NodeID      string        `json:"nodeId" binding:"required"`
	Hash        string        `json:"hash" binding:"required"`
	Signature   []byte        `json:"signature"`
}

func (h *APIHandler) handleSubmitCommit(c *gin.Context) {
	var req submitCommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	nodeID, err := chainhash.NewHashFromStr(req.NodeID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid nodeId"})
		return
	}
	hash, err := chainhash.NewHashFromStr(req.Hash)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hash"})
		return
	}
	if err := h.consensus.SubmitCommit(req.RoundNumber, *nodeID, *hash, req.Signature, time.Now()); err != nil {
		writeTypedError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

type submitRevealRequest struct {
	RoundNumber uint64 `json:"roundNumber"`
	NodeID      string `json:"nodeId" binding:"required"`
	Value       string `json:"value" binding:"required"`
	Nonce       string `json:"nonce" binding:"required"`
}

func (h *APIHandler) handleSubmitReveal(c *gin.Context) {
	var req submitRevealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	nodeID, err := chainhash.NewHashFromStr(req.NodeID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid nodeId"})
		return
	}
	if err := h.consensus.SubmitReveal(req.RoundNumber, *nodeID, req.Value, req.Nonce, time.Now()); err != nil {
		writeTypedError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

type pingResponseRequest struct {
	NodeID      string `json:"nodeId" binding:"required"`
	WindowIndex uint64 `json:"windowIndex"`
	Slot        uint32 `json:"slot"`
	Proof       string `json:"proof"`
}

func (h *APIHandler) handlePingResponse(c *gin.Context) {
	var req pingResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	nodeID, err := chainhash.NewHashFromStr(req.NodeID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid nodeId"})
		return
	}
	now := time.Now()
	if err := h.reputation.RecordPing(*nodeID, now.Unix()); err != nil {
		writeTypedError(c, err)
		return
	}
	resp := models.PingResponse{
		NodeID:          *nodeID,
		WindowIndex:     req.WindowIndex,
		Slot:            req.Slot,
		Proof:           req.Proof,
		RespondedAtUnix: now.Unix(),
	}
	if err := h.rewards.RecordPingResponse(resp); err != nil {
		writeTypedError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

type recordActivationRequest struct {
	NodeID       string          `json:"nodeId" binding:"required"`
	NodeType     models.NodeType `json:"nodeType" binding:"required"`
	OwnerAddress models.Address  `json:"ownerAddress" binding:"required"`
	PaidAmount   float64         `json:"paidAmount"`
	Proof        models.Proof    `json:"proof" binding:"required"`
}

func (h *APIHandler) handleRecordActivation(c *gin.Context) {
	var req recordActivationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	nodeID, err := chainhash.NewHashFromStr(req.NodeID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid nodeId"})
		return
	}
	entry := models.ActivationEntry{
		NodeID:       *nodeID,
		NodeType:     req.NodeType,
		OwnerAddress: req.OwnerAddress,
		Phase:        h.activation.PhaseState().Phase,
		PaidAmount:   req.PaidAmount,
		Proof:        req.Proof,
		Timestamp:    time.Now(),
	}
	createdNodeID, err := h.activation.RecordActivation(entry)
	if err != nil {
		writeTypedError(c, err)
		return
	}
	if h.store != nil {
		if err := h.store.SaveActivationEntry(c.Request.Context(), entry); err != nil {
			log.Printf("[API] failed to persist activation entry (proof=%s): %v", entry.Proof, err)
		}
	}
	c.JSON(http.StatusCreated, gin.H{"nodeId": createdNodeID.String()})
}

func (h *APIHandler) handleGetBlock(c *gin.Context) {
	kind := c.Param("kind")
	if kind != "micro" && kind != "macro" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be 'micro' or 'macro'"})
		return
	}
	height, err := strconv.ParseInt(c.Param("height"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid height"})
		return
	}
	payload, err := h.store.GetBlock(c.Request.Context(), kind, height)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
		return
	}
	c.Data(http.StatusOK, "application/json", payload)
}

func (h *APIHandler) handleGetShardStats(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shard id"})
		return
	}
	stats, err := h.shards.GetShardStats(uint32(id))
	if err != nil {
		writeTypedError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *APIHandler) handleGetCrossShardStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.shards.GetCrossShardStats())
}

func (h *APIHandler) handleGetPoolState(c *gin.Context) {
	c.JSON(http.StatusOK, h.rewards.PoolState())
}

// writeTypedError maps an internal/qnerr.Kind to the HTTP status spec §6
// associates with it.
func writeTypedError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case qnerr.Is(err, qnerr.InvalidSignature),
		qnerr.Is(err, qnerr.InvalidNonce),
		qnerr.Is(err, qnerr.RevealMismatch),
		qnerr.Is(err, qnerr.DuplicateCommit),
		qnerr.Is(err, qnerr.DuplicateProof),
		qnerr.Is(err, qnerr.WrongPhase),
		qnerr.Is(err, qnerr.UnknownNodeType),
		qnerr.Is(err, qnerr.OwnerAlreadyActive):
		status = http.StatusBadRequest
	case qnerr.Is(err, qnerr.UnknownNode), qnerr.Is(err, qnerr.ShardNotManaged):
		status = http.StatusNotFound
	case qnerr.Is(err, qnerr.NotEligible), qnerr.Is(err, qnerr.InsufficientBalance), qnerr.Is(err, qnerr.InsufficientPayment):
		status = http.StatusUnprocessableEntity
	case qnerr.Is(err, qnerr.DeadlineExceeded):
		status = http.StatusConflict
	case qnerr.Is(err, qnerr.QueueFull), qnerr.Is(err, qnerr.QuotaExceeded):
		status = http.StatusTooManyRequests
	case qnerr.Is(err, qnerr.Blacklisted), qnerr.Is(err, qnerr.ReplayDetected):
		status = http.StatusForbidden
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
