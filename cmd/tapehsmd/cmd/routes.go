package cmd

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/materials-commons/tapehsm/pkg/fileop"
	"github.com/materials-commons/tapehsm/pkg/webapi"
	"github.com/materials-commons/tapehsm/pkg/webapi/apimiddleware"
)

type RouteDependencies struct {
	e         *echo.Echo
	env       *fileop.Env
	numbers   *fileop.RequestNumbers
	startTime time.Time
	shutdown  func()
	key       string
}

func setupRoutes(deps RouteDependencies) {
	deps.e.Use(middleware.Recover())
	if deps.key != "" {
		deps.e.Use(apimiddleware.KeyAuth(apimiddleware.KeyConfig{Key: deps.key}))
	}

	g := deps.e.Group("/api")

	logController := webapi.NewLogController()
	g.POST("/set-logging-level", logController.SetLogLevel)
	g.POST("/set-logging-output", logController.SetLogOutput)
	g.POST("/set-logging", logController.SetLogging)
	g.GET("/show-logging", logController.ShowCurrentLogging)

	requestController := webapi.NewRequestController(deps.env, deps.numbers)
	g.POST("/reqnum", requestController.NextRequestNumber)
	g.POST("/migrations", requestController.Migrate)
	g.POST("/recalls", requestController.Recall)
	g.POST("/trecall", requestController.TransparentRecall)
	g.GET("/requests", requestController.ListRequests)
	g.GET("/requests/:num/status", requestController.RequestStatus)
	g.GET("/jobs", requestController.ListJobs)

	watchController := webapi.NewWatchController(deps.env.Scheduler.Tracker())
	g.GET("/requests/:num/watch", watchController.WatchRequest)

	inventoryController := webapi.NewInventoryController(deps.env.Inventory)
	g.GET("/drives", inventoryController.ListDrives)
	g.GET("/cartridges", inventoryController.ListCartridges)
	g.GET("/pools", inventoryController.ListPools)
	g.POST("/pools", inventoryController.CreatePool)
	g.DELETE("/pools/:name", inventoryController.DeletePool)
	g.POST("/pools/:name/cartridges", inventoryController.AddCartridge)
	g.DELETE("/pools/:name/cartridges/:tape", inventoryController.RemoveCartridge)

	adminController := webapi.NewAdminController(deps.env.Scheduler, deps.startTime, deps.shutdown)
	g.GET("/status", adminController.Status)
	g.GET("/metrics", adminController.Metrics)
	g.POST("/stop", adminController.Stop)
}
