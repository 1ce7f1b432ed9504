package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/cwrk-planet/meet-service/internal/domain"
	"github.com/cwrk-planet/meet-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

type Rooms interface {
	CreateRoom() (string, error)
	RoomExists(id string) bool
	Room(id string) (domain.Room, error)
}

type MeetHandlers struct {
	Rooms Rooms
	// PublicBaseURL prefixes share links: <base>/meet/<id>.
	PublicBaseURL string
}

type CreateMeetResponse struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

type ValidateMeetResponse struct {
	Valid bool `json:"valid"`
}

type ParticipantDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joined_at_unix"`
}

type RoomDTO struct {
	ID           string           `json:"id"`
	CreatedAt    int64            `json:"created_at_unix"`
	Participants []ParticipantDTO `json:"participants"`
}

// POST /create-meet
func (h *MeetHandlers) CreateMeet(w http.ResponseWriter, r *http.Request) {
	id, err := h.Rooms.CreateRoom()
	if err != nil {
		httputil.Fail(r.Context(), w, err, "create meet failed")
		return
	}

	httputil.JSON(w, http.StatusOK, CreateMeetResponse{ID: id, Link: h.link(id)})
}

// GET /validate-meet/{id}
func (h *MeetHandlers) ValidateMeet(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	httputil.JSON(w, http.StatusOK, ValidateMeetResponse{Valid: id != "" && h.Rooms.RoomExists(id)})
}

// GET /rooms/{id}
func (h *MeetHandlers) GetRoom(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		httputil.Error(r.Context(), w, http.StatusBadRequest, "id is required", nil)
		return
	}

	room, err := h.Rooms.Room(id)
	if err != nil {
		httputil.Fail(r.Context(), w, err, "get room failed")
		return
	}

	out := RoomDTO{
		ID:           room.ID,
		CreatedAt:    room.CreatedAt.Unix(),
		Participants: make([]ParticipantDTO, 0, len(room.Members)),
	}
	for _, p := range room.Members {
		out.Participants = append(out.Participants, ParticipantDTO{
			ID:       p.ConnectionID,
			Name:     p.DisplayName,
			JoinedAt: unix(p.JoinedAt),
		})
	}
	httputil.OK(w, out)
}

func (h *MeetHandlers) link(id string) string {
	return strings.TrimRight(h.PublicBaseURL, "/") + "/meet/" + id
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
