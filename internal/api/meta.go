package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"shrike/internal/backend"
	"shrike/internal/physical"
	"shrike/internal/profile"
)

// GET /api/meta/entities
func MetaEntitiesHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		set := d.Phys.Set()
		names := make([]string, 0, len(set.Entities))
		for name := range set.Entities {
			names = append(names, name)
		}
		sort.Strings(names)
		c.JSON(http.StatusOK, gin.H{"entities": names})
	}
}

// GET /api/meta/entities/:entity
func MetaEntityHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, ok := d.Phys.Set().Entities[c.Param("entity")]
		if !ok {
			respondError(c, &physical.UnroutableEntityError{Entity: c.Param("entity")})
			return
		}

		attrs := make([]gin.H, 0, len(e.Attributes))
		for _, a := range e.Attributes {
			attrs = append(attrs, gin.H{
				"name":          a.Name,
				"type":          a.RawType,
				"description":   a.Description,
				"key":           a.Key,
				"autoincrement": a.Autoincrement,
				"required":      a.Required,
				"unique":        a.Unique,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"name":         e.Name,
			"description":  e.Meta.Description,
			"keep_deleted": e.Meta.KeepDeleted,
			"protected":    e.Meta.Authorize != "",
			"attributes":   attrs,
		})
	}
}

// GET /api/meta/linkages
func MetaLinkagesHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		set := d.Phys.Set()
		out := make([]gin.H, 0, len(set.Linkages))
		names := make([]string, 0, len(set.Linkages))
		for name := range set.Linkages {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			l := set.Linkages[name]
			entry := gin.H{
				"name":        l.Name,
				"source":      l.Source,
				"target":      l.Target,
				"cardinality": l.Cardinality,
				"type":        l.Type,
			}
			if l.Type != profile.LinkageFilterMask {
				entry["source_key"] = l.SourceKey.Attribute
				entry["target_key"] = l.TargetKey.Attribute
			}
			out = append(out, entry)
		}
		c.JSON(http.StatusOK, gin.H{"linkages": out})
	}
}

// GET /api/meta/views
func MetaViewsHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		set := d.Phys.Set()
		out := make([]gin.H, 0, len(set.Views))
		names := make([]string, 0, len(set.Views))
		for name := range set.Views {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v := set.Views[name]
			topics := make([]string, 0, len(v.Topics))
			for topic := range v.Topics {
				topics = append(topics, topic)
			}
			sort.Strings(topics)
			out = append(out, gin.H{
				"name":      v.Name,
				"root":      v.Root,
				"linkages":  v.Linkages,
				"topics":    topics,
				"protected": v.Authorize != "",
			})
		}
		c.JSON(http.StatusOK, gin.H{"views": out})
	}
}

// GET /api/meta/frameworks
func MetaFrameworksHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"frameworks": backend.Frameworks()})
	}
}
