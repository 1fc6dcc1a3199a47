package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/advanced-rag/vector-gateway/internal/gateway"
	"github.com/advanced-rag/vector-gateway/internal/rag"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.gw.Health(c.Request.Context()))
}

func (s *Server) handleUpsert(c *gin.Context) {
	var req gateway.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}
	resp, err := s.gw.Upsert(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Set(logFieldsKey, []interface{}{
		"collection", resp.Collection,
		"inserted", resp.Inserted,
	})
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSearch(c *gin.Context) {
	var req gateway.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}
	resp, err := s.gw.Search(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Set(logFieldsKey, []interface{}{
		"collection", resp.Collection,
		"top_k", req.EffectiveTopK(),
		"filtered", req.Filters != nil,
		"hits", resp.Count,
		"reranked", resp.Reranked,
	})
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCollections(c *gin.Context) {
	resp, err := s.gw.Collections(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCollectionStats(c *gin.Context) {
	resp, err := s.gw.CollectionStats(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// writeError maps a classified error onto its status code, with the
// error message as the JSON detail. Server-side failures are logged here,
// once, at the boundary where they surface.
func (s *Server) writeError(c *gin.Context, err error) {
	status := statusForKind(rag.KindOf(err))
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"request_id", c.GetString(requestIDKey),
			"path", c.Request.URL.Path,
			"error", err,
		)
	}
	c.JSON(status, gin.H{"detail": err.Error()})
}

func statusForKind(kind rag.Kind) int {
	switch kind {
	case rag.KindValidation, rag.KindCapacity:
		return http.StatusBadRequest
	case rag.KindAuth:
		return http.StatusUnauthorized
	case rag.KindNotFound:
		return http.StatusNotFound
	case rag.KindRemote, rag.KindFormat:
		return http.StatusBadGateway
	default:
		// Config, store, and unclassified failures are the server's
		// fault.
		return http.StatusInternalServerError
	}
}
