package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"shrike/internal/physical"
)

// POST /api/entities/:entity
func CreateHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		entity := c.Param("entity")

		var rec map[string]any
		if err := c.ShouldBindJSON(&rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}

		created, err := d.Phys.Create(entity, rec, callOptions(c, listParams{}))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

// POST /api/entities/:entity/_bulk
func BulkCreateHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		entity := c.Param("entity")

		var recs []map[string]any
		if err := c.ShouldBindJSON(&recs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}

		created, n, err := d.Phys.CreateBatch(entity, recs, callOptions(c, listParams{}))
		if err != nil {
			// частичный результат отдаём вместе с ошибкой
			respondError(c, err)
			c.Header("X-Created-Count", strconv.Itoa(n))
			return
		}
		c.JSON(http.StatusCreated, gin.H{"created": created, "count": n})
	}
}

// GET /api/entities/:entity
func ListHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		entity := c.Param("entity")
		lp := parseListParams(c.Request.URL.Query())

		masks, err := masksFromQuery(c.Request.URL.Query())
		if err != nil {
			respondError(c, err)
			return
		}

		recs, err := d.Phys.Read(entity, masks, callOptions(c, lp))
		if err != nil {
			respondError(c, err)
			return
		}

		c.Header("X-Total-Count", strconv.Itoa(len(recs)))
		c.JSON(http.StatusOK, paginate(recs, lp))
	}
}

// GET /api/entities/:entity/:id
func GetOneHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		entity := c.Param("entity")
		lp := parseListParams(c.Request.URL.Query())

		e, ok := d.Phys.Set().Entities[entity]
		if !ok {
			respondError(c, &physical.UnroutableEntityError{Entity: entity})
			return
		}
		masks, err := d.Phys.KeyFilter(entity, parseKey(e, c.Param("id")))
		if err != nil {
			respondError(c, err)
			return
		}

		recs, err := d.Phys.Read(entity, masks, callOptions(c, lp))
		if err != nil {
			respondError(c, err)
			return
		}
		if len(recs) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		c.JSON(http.StatusOK, recs[0])
	}
}

// PATCH /api/entities/:entity/:id
func PatchHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		entity := c.Param("entity")

		e, ok := d.Phys.Set().Entities[entity]
		if !ok {
			respondError(c, &physical.UnroutableEntityError{Entity: entity})
			return
		}

		var patch map[string]any
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}

		updated, err := d.Phys.Update(entity, parseKey(e, c.Param("id")), patch, callOptions(c, listParams{}))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

// DELETE /api/entities/:entity/:id
func DeleteHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		entity := c.Param("entity")

		e, ok := d.Phys.Set().Entities[entity]
		if !ok {
			respondError(c, &physical.UnroutableEntityError{Entity: entity})
			return
		}

		if err := d.Phys.Delete(entity, parseKey(e, c.Param("id")), callOptions(c, listParams{})); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GET /api/entities/:entity/:id/linkages/:linkage
func LinkageHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		entity := c.Param("entity")

		e, ok := d.Phys.Set().Entities[entity]
		if !ok {
			respondError(c, &physical.UnroutableEntityError{Entity: entity})
			return
		}
		opts := callOptions(c, listParams{})

		masks, err := d.Phys.KeyFilter(entity, parseKey(e, c.Param("id")))
		if err != nil {
			respondError(c, err)
			return
		}
		recs, err := d.Phys.Read(entity, masks, opts)
		if err != nil {
			respondError(c, err)
			return
		}
		if len(recs) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}

		linked, err := d.Phys.ResolveLinkage(c.Param("linkage"), recs[0], opts)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, linked)
	}
}

// GET /api/views/:view?topic=...
func ViewHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		rendering, err := d.Views.Render(c.Param("view"), c.Query("topic"), c.GetHeader(accessTokenHeader))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rendering)
	}
}

// POST /api/admin/reload
func ReloadHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		set, err := d.LoadSet()
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		if err := d.Phys.Reload(set); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
	}
}
