package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"floorchat/internal/http/chathandler"
	"floorchat/internal/http/middleware"
	"floorchat/internal/services/chat"
	"floorchat/internal/ws"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/abrar71/swaggerfilesv2" // swagger embed files
)

// TokenService is what the REST surface needs from the token issuer.
type TokenService interface {
	middleware.SessionVerifier
	chathandler.SocketTokenIssuer
}

type httpServer struct {
	listenPort uint16
	srv        http.Server
	ln         net.Listener
	chatSvc    chat.IChatService
	tokens     TokenService
	wsSrv      *ws.WsServer
	ctx        context.Context
}

func NewHttpServer(ctx context.Context, listenPort uint16, wsSrv *ws.WsServer, chatSvc chat.IChatService, tokens TokenService) *httpServer {
	h := &httpServer{
		listenPort: listenPort,
		wsSrv:      wsSrv,
		chatSvc:    chatSvc,
		tokens:     tokens,
		ctx:        ctx,
	}
	h.srv.Handler = h.Router()
	h.srv.ReadHeaderTimeout = 10 * time.Second
	return h
}

// Router builds the gin engine.
func (h *httpServer) Router() *gin.Engine {
	routerEngine := gin.New()

	// Swagger UI and API specs
	routerEngine.StaticFS("/swagger-apis", http.FS(swaggerfilesv2.FS))
	routerEngine.Static("/api-specs", "api_specs")

	routerEngine.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	routerEngine.Use(ginzap.RecoveryWithZap(zap.L(), true))

	routerEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// websocket endpoint
	routerEngine.GET("/ws", h.wsSrv.Handle)

	// REST API
	api := routerEngine.Group("/api", middleware.RequireSession(h.tokens))
	chathandler.New(h.chatSvc, h.tokens).Register(api)

	return routerEngine
}

// Start blocks serving until Dispose is called.
func (h *httpServer) Start() error {
	var err error
	listenAddr := fmt.Sprintf(":%d", h.listenPort)
	h.ln, err = net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	zap.L().Info("http.listening", zap.String("addr", listenAddr))

	if err := h.srv.Serve(h.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Dispose gracefully shuts the HTTP server down.
// It waits up to 10 s for in‑flight requests to finish. Hijacked websocket
// connections are not tracked by http.Server and are closed by the caller.
func (h *httpServer) Dispose() error {
	// h.ctx is already cancelled when shutdown comes from a signal.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), 10*time.Second)
	defer cancel()

	if err := h.srv.Shutdown(ctx); err != nil {
		zap.L().Error("http_dispose", zap.Error(err))
		return err
	}

	if ctx.Err() == context.DeadlineExceeded {
		zap.L().Error("http_dispose", zap.Error(errors.New("shutdown timed out")))
	}

	return nil
}
