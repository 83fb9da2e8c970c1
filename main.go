package main

import (
	"context"
	"net/http"
	"os"
	"time"

	api "github.com/Financial-Times/api-endpoint"
	"github.com/Financial-Times/go-ft-http/fthttp"
	"github.com/Financial-Times/go-logger/v2"
	"github.com/Financial-Times/http-handlers-go/v2/httphandlers"
	status "github.com/Financial-Times/service-status-go/httphandlers"
	tidutils "github.com/Financial-Times/transactionid-utils-go"
	"github.com/Financial-Times/wbgapi-catalog/basicauth"
	"github.com/Financial-Times/wbgapi-catalog/handler"
	"github.com/Financial-Times/wbgapi-catalog/health"
	"github.com/Financial-Times/wbgapi-catalog/lending"
	"github.com/Financial-Times/wbgapi-catalog/region"
	"github.com/Financial-Times/wbgapi-catalog/source"
	"github.com/Financial-Times/wbgapi-catalog/wbgapi"
	"github.com/gorilla/mux"
	cli "github.com/jawher/mow.cli"
	metrics "github.com/rcrowley/go-metrics"
)

const appDescription = "World Bank lending groups and databases catalog"

type catalog struct {
	client  *wbgapi.Client
	lending *lending.API
	sources *source.API
}

func main() {
	app := cli.App("wbgapi-catalog", appDescription)

	appSystemCode := app.String(cli.StringOpt{
		Name:   "app-system-code",
		Value:  "wbgapi-catalog",
		Desc:   "System Code of the application",
		EnvVar: "APP_SYSTEM_CODE",
	})
	appName := app.String(cli.StringOpt{
		Name:   "app-name",
		Value:  "wbgapi-catalog",
		Desc:   "Application name",
		EnvVar: "APP_NAME",
	})
	port := app.String(cli.StringOpt{
		Name:   "port",
		Value:  "8080",
		Desc:   "Port to listen on",
		EnvVar: "APP_PORT",
	})
	endpoint := app.String(cli.StringOpt{
		Name:   "wbg-api-endpoint",
		Value:  wbgapi.DefaultEndpoint,
		Desc:   "World Bank API endpoint",
		EnvVar: "WBG_API_ENDPOINT",
	})
	lang := app.String(cli.StringOpt{
		Name:   "wbg-api-lang",
		Value:  wbgapi.DefaultLang,
		Desc:   "Language of the World Bank API labels",
		EnvVar: "WBG_API_LANG",
	})
	db := app.Int(cli.IntOpt{
		Name:   "wbg-database",
		Value:  wbgapi.DefaultDB,
		Desc:   "Default World Bank database id (2 is World Development Indicators)",
		EnvVar: "WBG_DATABASE",
	})
	pageSize := app.Int(cli.IntOpt{
		Name:   "wbg-page-size",
		Value:  wbgapi.DefaultPageSize,
		Desc:   "Number of records requested per page",
		EnvVar: "WBG_PAGE_SIZE",
	})
	upstreamBasicAuth := app.String(cli.StringOpt{
		Name:   "upstream-basic-auth",
		Value:  "",
		Desc:   "Basic auth credentials (user:password) for an authenticating World Bank API proxy",
		EnvVar: "UPSTREAM_BASIC_AUTH",
	})
	apiYml := app.String(cli.StringOpt{
		Name:   "api-yml",
		Value:  "./_ft/api.yml",
		Desc:   "Location of the API Swagger YML file.",
		EnvVar: "API_YML",
	})
	httpTimeoutDuration := app.String(cli.StringOpt{
		Name:   "http-timeout",
		Value:  "8s",
		Desc:   "Duration to wait before timing out a request",
		EnvVar: "HTTP_TIMEOUT",
	})
	logLevel := app.String(cli.StringOpt{
		Name:   "log-level",
		Value:  "INFO",
		Desc:   "Log level",
		EnvVar: "LOG_LEVEL",
	})

	log := logger.NewUPPLogger(*appSystemCode, *logLevel)

	newCatalog := func() *catalog {
		log = logger.NewUPPLogger(*appSystemCode, *logLevel)

		creds, err := basicauth.Parse(*upstreamBasicAuth)
		if err != nil {
			log.WithError(err).Fatal("Failed to parse upstream basic auth credentials")
		}

		cfg := wbgapi.Config{
			Endpoint: *endpoint,
			Lang:     *lang,
			DB:       *db,
			PageSize: *pageSize,
		}
		client := wbgapi.NewClient(fthttp.NewClientWithDefaultTimeout(wbgapi.Platform, *appSystemCode), cfg, log, wbgapi.WithCredentials(creds))

		return &catalog{
			client:  client,
			lending: lending.NewAPI(client, region.NewResolver(client), log),
			sources: source.NewAPI(client, source.NewCaches(), log),
		}
	}

	app.Command("lending", "Print a report of lending groups", func(cmd *cli.Cmd) {
		ids := cmd.StringsArg("ID", nil, "Lending group ids, e.g. IBD IDX; all groups when omitted")
		cmd.Spec = "[ID...]"
		cmd.Action = func() {
			c := newCatalog()
			if err := c.lending.Info(reportContext(), os.Stdout, *ids...); err != nil {
				log.WithError(err).Fatal("Failed to print lending groups")
			}
		}
	})

	app.Command("sources", "Print a report of databases", func(cmd *cli.Cmd) {
		ids := cmd.StringsArg("ID", nil, "Database ids, e.g. 2 11; all databases when omitted")
		cmd.Spec = "[ID...]"
		cmd.Action = func() {
			c := newCatalog()
			if err := c.sources.Info(reportContext(), os.Stdout, *ids...); err != nil {
				log.WithError(err).Fatal("Failed to print databases")
			}
		}
	})

	app.Action = func() {
		c := newCatalog()
		log.Infof("[Startup] %v is starting", *appSystemCode)
		log.Infof("System code: %s, App Name: %s, Port: %s", *appSystemCode, *appName, *port)

		httpTimeout, err := time.ParseDuration(*httpTimeoutDuration)
		if err != nil {
			log.WithError(err).Fatal("Please provide a valid timeout duration")
		}

		catalogHandler := handler.New(c.lending, c.sources, log, httpTimeout)
		healthService := health.NewHealthService(*appSystemCode, *appName, appDescription, c.client, c.sources)

		serveEndpoints(*port, apiYml, catalogHandler, healthService, log)
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Errorf("App could not start, error=[%s]\n", err)
		return
	}
}

func reportContext() context.Context {
	return tidutils.TransactionAwareContext(context.Background(), tidutils.NewTransactionID())
}

func serveEndpoints(port string, apiYml *string, h *handler.Handler, healthService *health.HealthService, log *logger.UPPLogger) {
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	var monitoringRouter http.Handler = r
	monitoringRouter = httphandlers.TransactionAwareRequestLoggingHandler(log, monitoringRouter)
	monitoringRouter = httphandlers.HTTPMetricsHandler(metrics.DefaultRegistry, monitoringRouter)

	http.HandleFunc("/__health", healthService.HealthCheckHandleFunc())
	http.HandleFunc(status.GTGPath, status.NewGoodToGoHandler(healthService.GTG))
	http.HandleFunc(status.BuildInfoPath, status.BuildInfoHandler)

	http.Handle("/", monitoringRouter)

	if apiYml != nil {
		apiEndpoint, err := api.NewAPIEndpointForFile(*apiYml)
		if err != nil {
			log.WithError(err).WithField("file", *apiYml).Warn("Failed to serve the API Endpoint for this service. Please validate the Swagger YML and the file location")
		} else {
			r.Handle(api.DefaultPath, apiEndpoint).Methods(http.MethodGet)
		}
	}

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatalf("Unable to start: %v", err)
	}
}
