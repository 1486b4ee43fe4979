package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/vidmod/vidmod-api/config"
	"github.com/vidmod/vidmod-api/handlers"
	"github.com/vidmod/vidmod-api/log"
	"github.com/vidmod/vidmod-api/metrics"
	"github.com/vidmod/vidmod-api/middleware"
	"github.com/vidmod/vidmod-api/pipeline"
)

func ListenAndServe(ctx context.Context, cli *config.Cli, coordinator *pipeline.Coordinator) error {
	router := NewVidModAPIRouter(cli, coordinator)
	server := http.Server{Addr: cli.HTTPAddress, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoRequestID(
		"Starting VidMod API!",
		"version", config.Version,
		"host", cli.HTTPAddress,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func NewVidModAPIRouter(cli *config.Cli, coordinator *pipeline.Coordinator) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest()
	withCORS := middleware.AllowCORS(cli.CORSAllowedOrigins)
	withAuth := middleware.IsAuthorized

	apiHandlers := &handlers.VidModHandlersCollection{Coordinator: coordinator}

	// Simple endpoints for healthchecks
	router.GET("/ok", withLogging(apiHandlers.Ok()))
	router.GET("/healthcheck", withLogging(apiHandlers.Ok()))
	router.Handler("GET", "/metrics", metrics.Handler())

	// browser preflight requests never reach the per-route chains
	router.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		withCORS(func(http.ResponseWriter, *http.Request, httprouter.Params) {})(w, r, nil)
	})

	authed := func(handler httprouter.Handle) httprouter.Handle {
		return withLogging(withCORS(withAuth(cli.APIToken, handler)))
	}

	router.POST("/api/upload", authed(apiHandlers.Upload()))
	router.GET("/api/status/:id", authed(apiHandlers.Status()))
	router.GET("/api/preview/:id/frame/:index", authed(apiHandlers.PreviewFrame()))
	router.GET("/api/download/:id", authed(apiHandlers.Download()))
	router.DELETE("/api/:id", authed(apiHandlers.DeleteJob()))

	router.POST("/api/analyze-video/:id", authed(apiHandlers.AnalyzeVideo()))
	router.POST("/api/analyze-audio/:id", authed(apiHandlers.AnalyzeAudio()))
	router.POST("/api/analyze-region/:id", authed(apiHandlers.AnalyzeRegion()))
	router.POST("/api/suggest-replacements/:id", authed(apiHandlers.SuggestReplacements()))

	router.POST("/api/blur-object", authed(apiHandlers.BlurObject()))
	router.POST("/api/replace-generative", authed(apiHandlers.ReplaceGenerative()))
	router.POST("/api/censor-audio", authed(apiHandlers.CensorAudio()))

	return router
}
