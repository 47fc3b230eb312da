package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"cloud.google.com/go/storage"
	"github.com/alexflint/go-arg"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	metrics "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	ginmiddleware "github.com/slok/go-http-metrics/middleware/gin"

	"github.com/seek-ret/fwbundle/internal/archive"
	"github.com/seek-ret/fwbundle/internal/firmware"
	"github.com/seek-ret/fwbundle/internal/handlers"
	"github.com/seek-ret/fwbundle/internal/localstore"
	"github.com/seek-ret/fwbundle/internal/remote"
)

// args is the arguments to the server. Each of the arguments can be supplied via environment variable or command line.
var args struct {
	ProxyURL          string        `arg:"--proxy-url,env:PROXY_URL" help:"prefix for upstream archive requests"`
	Port              string        `arg:"-p,env:PORT" default:"8080"`
	RequestTimeout    time.Duration `arg:"--request-timeout,env:REQUEST_TIMEOUT" default:"60s"`
	UserAgent         string        `arg:"--user-agent,env:USER_AGENT"`
	Referer           string        `arg:"--referer,env:REFERER"`
	StoreCapacity     int           `arg:"--store-capacity,env:STORE_CAPACITY" default:"4"`
	MaxUploadBytes    int64         `arg:"--max-upload-bytes,env:MAX_UPLOAD_BYTES" default:"33554432"`
	BundleBucket      string        `arg:"-b,--bundle-bucket,env:BUNDLE_BUCKET" help:"GCS bucket holding firmware bundles"`
	DisableMonitoring bool          `arg:"--no-monitoring,env:NO_MONITORING" default:"false"`
}

func printAllRoutes(engine *gin.Engine) {
	fmt.Println("Routes: ")
	routes := engine.Routes()
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Path < routes[j].Path
	})
	for _, route := range routes {
		fmt.Printf("  %-6s %-35s\n", route.Method, route.Path)
	}
}

func setupEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))
	engine.Use(gin.Recovery())
	engine.MaxMultipartMemory = args.MaxUploadBytes

	prometheusMiddleware := middleware.New(middleware.Config{
		Recorder: metrics.NewRecorder(metrics.Config{}),
		Service:  fmt.Sprintf("fwbundle-online-%s", uuid.NewString()),
	})

	engine.Use(ginmiddleware.Handler("", prometheusMiddleware))

	return engine
}

func addRoutes(engine *gin.Engine, routesHandler handlers.RoutesHandler) {
	apiRouterGroup := engine.Group("/api")
	v1RouterGroup := apiRouterGroup.Group("/v1")
	v1RouterGroup.GET("/targets", routesHandler.ListTargets)
	v1RouterGroup.GET("/firmware", routesHandler.DownloadFirmware)
	v1RouterGroup.GET("/firmware/bundle", routesHandler.DownloadFirmwareBundle)
	v1RouterGroup.GET("/bundles", routesHandler.ListBundles)

	localRouterGroup := v1RouterGroup.Group("/local-firmware")
	localRouterGroup.POST("", routesHandler.RegisterLocalFirmware)
	localRouterGroup.GET("", routesHandler.ListLocalFirmware)
	localRouterGroup.GET("/:id", routesHandler.DownloadLocalFirmware)

	monitoringRouterGroup := engine.Group("/monitoring")
	if !args.DisableMonitoring {
		monitoringRouterGroup.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	healthHandler := healthcheck.NewHandler()
	monitoringRouterGroup.GET("/health", gin.WrapF(healthHandler.LiveEndpoint))
}

func httpOptions() []remote.Option {
	opts := []remote.Option{
		remote.WithProxyURL(args.ProxyURL),
		remote.WithTimeout(args.RequestTimeout),
	}
	if args.UserAgent != "" {
		opts = append(opts, remote.WithHeader("User-Agent", args.UserAgent))
	}
	if args.Referer != "" {
		opts = append(opts, remote.WithHeader("Referer", args.Referer))
	}
	return opts
}

func main() {
	arg.MustParse(&args)

	var gcsClient *storage.Client
	var bundles remote.BundleLister
	if args.BundleBucket != "" {
		var err error
		gcsClient, err = storage.NewClient(context.Background())
		if err != nil {
			log.Fatalf("Failed initialize GCP storage client due to: %+v", err)
		}
		bundles = remote.NewGCSBundleLister(gcsClient, args.BundleBucket)
	}

	indexes := archive.NewCache(
		remote.NewFactory(gcsClient, httpOptions()...),
		archive.WithRegisterer(prometheus.DefaultRegisterer),
	)
	store := localstore.New(localstore.WithCapacity(args.StoreCapacity))
	routesHandler := handlers.NewRoutesHandler(
		firmware.NewTargetResolver(indexes),
		firmware.NewFetcher(indexes),
		store,
		bundles,
		args.MaxUploadBytes,
	)

	engine := setupEngine()
	addRoutes(engine, routesHandler)
	printAllRoutes(engine)

	log.Printf("listening on 0.0.0.0:%s\n", args.Port)
	if err := engine.Run(fmt.Sprintf("0.0.0.0:%s", args.Port)); err != nil {
		log.Fatal(err)
	}
}
