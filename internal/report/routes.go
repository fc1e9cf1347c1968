package report

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/throughput/internal/schedule"
	"gorm.io/gorm"
)

// registerRoutes sets up all report routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB) {
	router.GET("/healthz", handleHealth(db))
	router.GET("/cells", handleCells(db))
	router.GET("/chains", handleChainSummary(db))
	router.GET("/chains/:id", handleChain(db))
	router.GET("/batches/:id", handleBatch(db))
	router.GET("/records", handleRecords(db))
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleCells(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := ListCells(db.WithContext(c.Request.Context()), CellFilters{
			Process: c.Query("process"),
			From:    c.Query("from"),
			To:      c.Query("to"),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cells": rows})
	}
}

func handleChainSummary(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := ChainSummary(db.WithContext(c.Request.Context()))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"states": rows})
	}
}

func handleChain(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		chain, err := schedule.GetChain(db.WithContext(c.Request.Context()), c.Param("id"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, schedule.ErrChainNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, chain)
	}
}

func handleBatch(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		detail, err := GetBatch(db.WithContext(c.Request.Context()), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if detail == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

func handleRecords(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sourceNo := c.Query("source_no")
		if sourceNo == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "source_no is required"})
			return
		}
		recs, err := RecordsBySource(db.WithContext(c.Request.Context()), sourceNo)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
	}
}
