// Package server exposes the daemon's status surface.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/DaveHalls/nft-dark-forest/service/assets"
	"github.com/DaveHalls/nft-dark-forest/service/operation"
	"github.com/DaveHalls/nft-dark-forest/service/reconcile"
	"github.com/DaveHalls/nft-dark-forest/util"
	"github.com/gin-gonic/gin"
)

// Deps are the live components the status endpoint reports on.
type Deps struct {
	Loader     *assets.Loader
	Reconciler *reconcile.Reconciler
	Tracker    *operation.Tracker
}

// HandlersInit registers the daemon's routes on router.
func HandlersInit(router *gin.Engine, deps Deps) *gin.Engine {
	router.GET("/alive", util.HealthCheckHandler())
	router.GET("/status", getStatus(deps))
	return router
}

func getStatus(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()

		owned, _ := deps.Loader.CachedAssets(ctx)
		pending, completed := deps.Tracker.Counts()
		battleMark, trainingMark := deps.Reconciler.Watermarks(ctx)

		c.JSON(http.StatusOK, gin.H{
			"owned_assets":         len(owned),
			"pending_operations":   pending,
			"completed_operations": completed,
			"last_reconcile":       deps.Reconciler.LastRun(),
			"battle_watermark":     battleMark.LastScanned,
			"training_watermark":   trainingMark.LastScanned,
		})
	}
}
