package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wx-shi/utxo-ledger/internal/config"
	"github.com/wx-shi/utxo-ledger/internal/ledger"
	"github.com/wx-shi/utxo-ledger/pkg"
	"go.uber.org/zap"
)

const (
	// readTimeout is the maximum duration for reading the entire
	// request, including the body.
	readTimeout = 30 * time.Second

	// writeTimeout is the maximum duration before timing out
	// writes of the response. It is reset whenever a new
	// request's header is read.
	writeTimeout = 30 * time.Second

	// idleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled.
	idleTimeout = 5 * time.Minute
)

type Server struct {
	conf   *config.ServerConfig
	logger *zap.Logger
	ledger *ledger.Service
	engine *gin.Engine
	hs     *http.Server
}

func NewServer(conf *config.ServerConfig, logger *zap.Logger, ledger *ledger.Service) *Server {
	s := &Server{
		conf:   conf,
		logger: logger,
		ledger: ledger,
	}

	s.initGin()
	return s
}

func (s *Server) initGin() {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(pkg.LogMiddleware(s.logger), pkg.CORSMiddleware(), gin.Recovery())

	engine.POST("wallet", s.walletHandle())
	engine.POST("addresses", s.addressesHandle())
	engine.POST("chain", s.genesisHandle())
	engine.POST("balance", s.balanceHandle())
	engine.POST("utxo", s.utxoHandle())
	engine.POST("send", s.sendHandle())
	engine.POST("blocks", s.blocksHandle())
	engine.POST("reindex", s.reindexHandle())
	engine.POST("verify", s.verifyHandle())
	engine.POST("height", s.heightHandle())
	s.engine = engine
}

// Handler exposes the routes without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Run() {
	addr := fmt.Sprintf("%s:%d", s.conf.Host, s.conf.Port)
	hs := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	s.hs = hs

	go func() {
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("listen", zap.Error(err))
		}
	}()
	s.logger.Info("listen", zap.String("addr", addr))
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.hs == nil {
		return nil
	}
	return s.hs.Shutdown(ctx)
}
