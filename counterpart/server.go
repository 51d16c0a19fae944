package counterpart

import (
	"crypto/ecdsa"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	sessionkeys "github.com/smartwallet-foundation/sessionkeys/go"
)

const methodWalletSign = "wallet_sign"

// Server is a development granting counterpart. It grants every requested
// permission, minting an opaque context per grant, and signs hashes with a
// configured key through wallet_sign. It performs no policy enforcement
// and must never front real funds.
type Server struct {
	logger  *zap.Logger
	signKey *ecdsa.PrivateKey
}

// NewServer creates a dev counterpart. signKey may be nil to disable
// wallet_sign.
func NewServer(logger *zap.Logger, signKey *ecdsa.PrivateKey) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{logger: logger, signKey: signKey}
}

// Handler returns the gin engine serving the JSON-RPC endpoint at "/".
func (s *Server) Handler() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.POST("/", s.handleRPC)
	return engine
}

type incomingRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

func (s *Server) handleRPC(c *gin.Context) {
	var req incomingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": -32700, "message": "parse error"}})
		return
	}

	s.logger.Info("rpc request", zap.String("method", req.Method), zap.String("id", req.ID))

	switch req.Method {
	case methodGrantPermissions:
		s.handleGrantPermissions(c, req)
	case methodWalletSign:
		s.handleWalletSign(c, req)
	default:
		c.JSON(http.StatusOK, gin.H{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   gin.H{"code": -32601, "message": "method not found"},
		})
	}
}

func (s *Server) handleGrantPermissions(c *gin.Context, req incomingRequest) {
	if len(req.Params) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   gin.H{"code": -32602, "message": "missing grant request"},
		})
		return
	}
	var request sessionkeys.PermissionGrant
	if err := json.Unmarshal(req.Params[0], &request); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   gin.H{"code": -32602, "message": "invalid grant request"},
		})
		return
	}

	// One granted entry per requested permission, each with a fresh
	// opaque context. Context bytes have no structure clients may rely on.
	granted := make([]sessionkeys.GrantedPermission, 0, len(request.Permissions))
	for range request.Permissions {
		id := uuid.New()
		granted = append(granted, sessionkeys.GrantedPermission{
			PermissionGrant: request,
			Context:         hexutil.Bytes(id[:]),
		})
	}

	s.logger.Info("granted permissions",
		zap.String("account", request.Account.Hex()),
		zap.Int("count", len(granted)),
	)

	c.JSON(http.StatusOK, gin.H{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"result":  granted,
	})
}

type walletSignParams struct {
	Hash common.Hash `json:"hash"`
}

func (s *Server) handleWalletSign(c *gin.Context, req incomingRequest) {
	if s.signKey == nil {
		c.JSON(http.StatusOK, gin.H{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   gin.H{"code": -32000, "message": "signing not configured"},
		})
		return
	}
	if len(req.Params) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   gin.H{"code": -32602, "message": "missing hash"},
		})
		return
	}
	var params walletSignParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   gin.H{"code": -32602, "message": "invalid hash"},
		})
		return
	}

	signature, err := crypto.Sign(params.Hash.Bytes(), s.signKey)
	if err != nil {
		s.logger.Error("sign failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   gin.H{"code": -32000, "message": "signing failed"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jsonrpc":   "2.0",
		"id":        req.ID,
		"signature": hexutil.Bytes(signature),
	})
}

// Address returns the wallet_sign key's address, or the zero address when
// signing is disabled.
func (s *Server) Address() common.Address {
	if s.signKey == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(s.signKey.PublicKey)
}
