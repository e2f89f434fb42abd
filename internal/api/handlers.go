package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tatianab/ai-game-assistant/internal/models"
)

func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.loop.Snapshot())
}

// Screen serves the latest raw capture.
func (h *Handler) Screen(c *gin.Context) {
	s := h.loop.Screen()
	if s.Empty() {
		c.Status(http.StatusNoContent)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, s.ContentType(), s.Data)
}

func (h *Handler) Start(c *gin.Context) {
	if err := h.loop.Start(); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"aiState": h.loop.State()})
}

func (h *Handler) Stop(c *gin.Context) {
	h.loop.Stop()
	c.JSON(http.StatusOK, gin.H{"aiState": h.loop.State()})
}

func (h *Handler) SetGoal(c *gin.Context) {
	var req struct {
		Goal string `json:"goal"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	h.loop.SetGoal(req.Goal)
	c.JSON(http.StatusOK, gin.H{"aiGoal": req.Goal})
}

func (h *Handler) AddObjective(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	o, err := h.loop.AddObjective(req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func objectiveID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid objective id")
		return 0, false
	}
	return id, true
}

func (h *Handler) ToggleObjective(c *gin.Context) {
	id, ok := objectiveID(c)
	if !ok {
		return
	}
	if err := h.loop.ToggleObjective(id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.loop.Snapshot().Objectives)
}

func (h *Handler) DeleteObjective(c *gin.Context) {
	id, ok := objectiveID(c)
	if !ok {
		return
	}
	if err := h.loop.DeleteObjective(id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MoveObjective drops an objective in front of another; "before": 0 moves it
// to the end.
func (h *Handler) MoveObjective(c *gin.Context) {
	id, ok := objectiveID(c)
	if !ok {
		return
	}
	var req struct {
		Before int `json:"before"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.loop.MoveObjective(id, req.Before); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.loop.Snapshot().Objectives)
}

func (h *Handler) ReorderObjectives(c *gin.Context) {
	var req struct {
		IDs []int `json:"ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.loop.ReorderObjectives(req.IDs); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.loop.Snapshot().Objectives)
}

// Chat blocks until the model has answered and returns the reply.
func (h *Handler) Chat(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		badRequest(c, "message is empty")
		return
	}
	reply, ok := h.loop.SendChat(c.Request.Context(), req.Text)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "a chat reply is already pending"})
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (h *Handler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.loop.Settings())
}

func (h *Handler) SaveSettings(c *gin.Context) {
	var s models.AppSettings
	if err := c.ShouldBindJSON(&s); err != nil {
		badRequest(c, err.Error())
		return
	}
	h.loop.SaveSettings(c.Request.Context(), s)
	c.JSON(http.StatusOK, h.loop.Settings())
}

// Sessions lists the saved sessions and names the one in use.
func (h *Handler) Sessions(c *gin.Context) {
	names, err := h.loop.Sessions()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"current": h.loop.SessionName(), "sessions": names})
}

func (h *Handler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, h.loop.RefreshModels(c.Request.Context()))
}

// LoadROM takes the ROM as multipart field "rom", the same shape the
// emulator server expects.
func (h *Handler) LoadROM(c *gin.Context) {
	fh, err := c.FormFile("rom")
	if err != nil {
		badRequest(c, "missing rom file")
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()

	if err := h.loop.LoadROM(c.Request.Context(), fh.Filename, f); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Successfully loaded " + fh.Filename + "."})
}

func (h *Handler) SaveState(c *gin.Context) {
	if err := h.loop.SaveGameState(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Game state saved."})
}

func (h *Handler) LoadState(c *gin.Context) {
	if err := h.loop.LoadGameState(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Game state loaded."})
}
