package realtime

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"sort"

	"github.com/benW3ART/vibes-sub001/internal/protocol"
)

const maxBodySize = 16 << 20

type channelInfo struct {
	Name       protocol.Channel `json:"name"`
	Direction  string           `json:"direction"`
	Concurrent bool             `json:"concurrent,omitempty"`
}

// handleInvoke mirrors one invoke over HTTP. The body is the payload and
// the response is the Result.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if !allowedOrigin(r) {
		writeResult(w, http.StatusForbidden, protocol.Fail(protocol.Errorf(protocol.CodeAccessDenied, "origin not allowed")))
		return
	}
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		writeResult(w, http.StatusUnsupportedMediaType, protocol.Fail(protocol.Errorf(protocol.CodeInvalidMessage, "content type must be application/json")))
		return
	}

	ch := protocol.Channel(r.PathValue("channel"))
	if spec, ok := protocol.Lookup(ch); !ok || spec.Direction != protocol.Invoke {
		writeResult(w, http.StatusNotFound, protocol.Fail(protocol.Errorf(protocol.CodeChannelNotFound, "unknown channel: %s", ch)))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeResult(w, http.StatusBadRequest, protocol.Fail(protocol.Errorf(protocol.CodeInvalidMessage, "invalid request body")))
		return
	}

	result := s.bus.Invoke(r.Context(), ch, body)
	writeResult(w, statusFor(result), result)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels := s.bus.Channels()
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	pushes := protocol.Channels(protocol.Push)
	sort.Slice(pushes, func(i, j int) bool { return pushes[i] < pushes[j] })

	result := make([]channelInfo, 0, len(channels)+len(pushes))
	for _, ch := range append(channels, pushes...) {
		spec, _ := protocol.Lookup(ch)
		result = append(result, channelInfo{Name: ch, Direction: spec.Direction.String(), Concurrent: spec.Concurrent})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// statusFor maps a Result to an HTTP status. The body always carries
// the Result itself.
func statusFor(r protocol.Result) int {
	if r.Success {
		return http.StatusOK
	}
	switch r.Error.Code {
	case protocol.CodeChannelNotFound, protocol.CodeSessionNotFound:
		return http.StatusNotFound
	case protocol.CodeInvalidMessage:
		return http.StatusBadRequest
	case protocol.CodeAccessDenied:
		return http.StatusForbidden
	case protocol.CodeDuplicateResource, protocol.CodeSessionNotAccepting:
		return http.StatusConflict
	case protocol.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeResult(w http.ResponseWriter, status int, result protocol.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(result)
}
