package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudreve/davserver/application/constants"
	"github.com/cloudreve/davserver/application/dependency"
	"github.com/cloudreve/davserver/pkg/conf"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/cloudreve/davserver/routers"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
)

type Server interface {
	// Start starts the WebDAV server, blocking until it is closed.
	Start() error
	PrintBanner()
	Close()
}

// NewServer constructs a new server instance with given dependency.
func NewServer(dep dependency.Dep) Server {
	return &server{
		dep:    dep,
		logger: dep.Logger(),
		config: dep.ConfigProvider(),
	}
}

type server struct {
	dep    dependency.Dep
	logger logging.Logger
	config conf.ConfigProvider
	server *http.Server
	cron   *cron.Cron
}

func (s *server) PrintBanner() {
	fmt.Print(`
     _
  __| | __ ___   _____  ___ _ ____   _____ _ __
 / _' |/ _' \ \ / / __|/ _ \ '__\ \ / / _ \ '__|
| (_| | (_| |\ V /\__ \  __/ |   \ V /  __/ |
 \__,_|\__,_| \_/ |___/\___|_|    \_/ \___|_|

   V` + constants.BackendVersion + `  Commit #` + constants.LastCommit + `
================================================

`)
}

func (s *server) Start() error {
	// Debug 关闭时，切换为生产模式
	if !s.config.System().Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// make sure all dep is initialized before user traffic.
	s.dep.KV()
	s.dep.LockSystem()
	s.dep.DavHandler()

	s.cron = s.dep.Cron()
	s.cron.Start()

	api := routers.InitRouter(s.dep)
	api.TrustedPlatform = s.config.System().ProxyHeader
	s.server = &http.Server{Handler: api}

	s.logger.Info("Listening to %q", s.config.System().Listen)
	s.server.Addr = s.config.System().Listen
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to listen to %q: %w", s.config.System().Listen, err)
	}
	return nil
}

func (s *server) Close() {
	ctx := context.Background()
	if s.config.System().GracePeriod != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.config.System().GracePeriod)*time.Second)
		defer cancel()
	}

	// Shutdown http server
	if s.server != nil {
		err := s.server.Shutdown(ctx)
		if err != nil {
			s.logger.Error("Failed to shutdown server: %s", err)
		}
	}

	if err := s.dep.Shutdown(ctx); err != nil {
		s.logger.Warning("Failed to shutdown dependency manager: %s", err)
	}
}
