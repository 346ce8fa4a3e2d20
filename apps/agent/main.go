package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	echoapi "github.com/trezcool/maendeleo/apps/agent/echo"
	"github.com/trezcool/maendeleo/core"
	"github.com/trezcool/maendeleo/core/offline"
	"github.com/trezcool/maendeleo/core/progress"
	connsvc "github.com/trezcool/maendeleo/services/connectivity"
	emailsvc "github.com/trezcool/maendeleo/services/email"
	logsvc "github.com/trezcool/maendeleo/services/logger"
	syncsvc "github.com/trezcool/maendeleo/services/syncapi"
	inmemkv "github.com/trezcool/maendeleo/storage/kv/inmem"
	sqlitekv "github.com/trezcool/maendeleo/storage/kv/sqlite"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "AGENT : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	syncLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "SYNC : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	syncLogger.Enable(!conf.Debug)

	// set up local storage
	store, closeStore, err := setUpStore(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up storage: %v", err), err)
	}
	defer func() {
		if err = closeStore(); err != nil {
			logger.Error(fmt.Sprintf("closing storage: %v", err), err)
		}
	}()

	// set up the event log & projections
	eventLog := progress.NewLog(store, logger)
	if err = eventLog.Load(); err != nil {
		logger.Error(fmt.Sprintf("loading event log: %v", err), err)
	}
	projector := progress.NewProjector(eventLog)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	prober := connsvc.NewProber(conf, syncLogger)
	prober.Start()
	defer prober.Stop()

	// set up the offline queue & sync coordinator
	queue := offline.NewQueue(conf, store, syncLogger)
	if err = queue.Load(); err != nil {
		syncLogger.Error(fmt.Sprintf("loading offline queue: %v", err), err)
	}
	coordinator := offline.NewCoordinator(offline.CoordinatorDeps{
		Conf:   conf,
		Queue:  queue,
		Client: syncsvc.NewClient(conf, syncLogger),
		Conn:   prober,
		Logger: syncLogger,
		Clock:  core.NewClock(),
		Mail:   mailSvc,
	})
	coordinator.Start()
	defer coordinator.Stop()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	progress.InitValidators(validate, translator)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err = http.ListenAndServe(conf.Server.DebugAddr, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Agent Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:        conf,
			Logger:      logger,
			Log:         eventLog,
			Projector:   projector,
			Coordinator: coordinator,
			Validate:    validate,
			Translator:  translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpStore(conf *core.Config) (core.KVStore, func() error, error) {
	switch conf.Storage.Engine {
	case "inmem":
		return inmemkv.Open(), func() error { return nil }, nil
	default:
		store, err := sqlitekv.Open(conf.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
