package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
	"realtime-service/internal/ws"
)

const maxHistoryPage = 200

// RoomHandler serves the REST side of rooms: listings and message history.
// Live traffic goes over the websocket endpoints instead.
type RoomHandler struct {
	roomRepo     repositories.RoomRepository
	messageRepo  repositories.MessageRepository
	historyLimit int
}

// NewRoomHandler builds a RoomHandler. historyLimit is the default page size
// when the request does not ask for one.
func NewRoomHandler(roomRepo repositories.RoomRepository, messageRepo repositories.MessageRepository, historyLimit int) *RoomHandler {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &RoomHandler{
		roomRepo:     roomRepo,
		messageRepo:  messageRepo,
		historyLimit: historyLimit,
	}
}

// ListRooms returns the rooms visible to the authenticated user, most
// recently active first, each with its participant roster.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	userID := c.GetString("userID")

	rooms, err := h.roomRepo.RoomsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}

	type roomResponse struct {
		RoomID       string               `json:"room_id"`
		Name         string               `json:"name,omitempty"`
		RoomType     string               `json:"room_type"`
		CreatedAt    time.Time            `json:"created_at"`
		UpdatedAt    time.Time            `json:"updated_at"`
		Participants []models.Participant `json:"participants"`
	}

	responses := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		participants, err := h.roomRepo.Participants(c.Request.Context(), room.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
			return
		}
		responses = append(responses, roomResponse{
			RoomID:       room.ID,
			Name:         room.Name,
			RoomType:     room.RoomType,
			CreatedAt:    room.CreatedAt,
			UpdatedAt:    room.UpdatedAt,
			Participants: participants,
		})
	}

	c.JSON(http.StatusOK, gin.H{"rooms": responses})
}

// GetRoomMessages returns stored history for a room the user belongs to.
// `limit` caps the page size; `before` (RFC3339) pages backwards in time.
// Messages come back oldest first, in the same shape the websocket replays.
func (h *RoomHandler) GetRoomMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	if err := uuid.Validate(roomID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	userID := c.GetString("userID")
	member, err := h.roomRepo.IsParticipant(c.Request.Context(), roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room participant"})
		return
	}

	limit := h.historyLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if parsed > maxHistoryPage {
			parsed = maxHistoryPage
		}
		limit = parsed
	}

	var (
		msgs    []models.Message
		loadErr error
	)
	if raw := c.Query("before"); raw != "" {
		before, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
			return
		}
		msgs, loadErr = h.messageRepo.HistoryBefore(c.Request.Context(), roomID, before, limit)
	} else {
		msgs, loadErr = h.messageRepo.RecentHistory(c.Request.Context(), roomID, limit)
	}
	if loadErr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	frames := make([]ws.MessageFrame, 0, len(msgs))
	for _, m := range msgs {
		frames = append(frames, ws.NewMessageFrame(m))
	}

	c.JSON(http.StatusOK, gin.H{"messages": frames})
}
