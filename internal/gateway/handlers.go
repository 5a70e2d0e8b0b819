package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kartikbazzad/bunpub/internal/session"
	"github.com/kartikbazzad/bunpub/internal/store"
	"github.com/kartikbazzad/bunpub/internal/types"
)

func (s *Server) handlePublications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"publications": s.registry.Names()})
}

// handleSubscribe streams a named publication over SSE. Subscription
// arguments come in as a JSON array in the args query parameter.
func (s *Server) handleSubscribe(c *gin.Context) {
	name := c.Param("name")
	pub, err := s.registry.Get(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown publication"})
		return
	}

	var args []interface{}
	if raw := c.Query("args"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "args must be a JSON array"})
			return
		}
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	conn := newSSEConn(s.cfg.Session.OutboundBuffer, s.log)
	sess := session.NewWithDepth(conn, pub, args, s.metrics, s.log, s.cfg.Session.QueueDepth)

	if s.sessions != nil {
		if err := s.sessions.Submit(sess.Run); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many subscriptions"})
			return
		}
	} else {
		go sess.Run()
	}
	defer conn.stop()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	s.log.Debug("subscription %s started on %q", sess.ID(), name)
	c.Writer.WriteString("event: connected\n")
	c.Writer.WriteString("data: {\"publication\":\"" + name + "\"}\n\n")
	flusher.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev := <-conn.events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			c.Writer.WriteString("event: " + ev.Type + "\n")
			c.Writer.WriteString("data: " + string(data) + "\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) handleCollections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"collections": s.store.CollectionNames()})
}

func (s *Server) handleList(c *gin.Context) {
	coll := s.store.Collection(c.Param("collection"))
	docs := coll.Find(store.All()).Fetch()
	out := make([]gin.H, 0, len(docs))
	for _, doc := range docs {
		out = append(out, gin.H{"id": doc.ID, "fields": doc.Fields})
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

func (s *Server) handleGet(c *gin.Context) {
	coll := s.store.Collection(c.Param("collection"))
	doc, ok := coll.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": doc.ID, "fields": doc.Fields})
}

type documentBody struct {
	ID     string       `json:"id"`
	Fields types.Fields `json:"fields"`
}

func (s *Server) handleInsert(c *gin.Context) {
	var body documentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document body"})
		return
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}
	coll := s.store.Collection(c.Param("collection"))
	if err := coll.Insert(body.ID, body.Fields); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": body.ID})
}

func (s *Server) handleUpdate(c *gin.Context) {
	var body documentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document body"})
		return
	}
	coll := s.store.Collection(c.Param("collection"))
	if err := coll.Update(c.Param("id"), body.Fields); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
}

func (s *Server) handlePatch(c *gin.Context) {
	var body documentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document body"})
		return
	}
	coll := s.store.Collection(c.Param("collection"))
	if err := coll.Patch(c.Param("id"), body.Fields); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
}

func (s *Server) handleDelete(c *gin.Context) {
	coll := s.store.Collection(c.Param("collection"))
	if err := coll.Delete(c.Param("id")); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
}

func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrDocExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, types.ErrDocNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, types.ErrStoreClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
