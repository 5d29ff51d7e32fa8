package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shopassist/pkg/channel"
	"shopassist/pkg/config"
	"shopassist/pkg/logx"
	"shopassist/pkg/persistence"
	"shopassist/pkg/tools"
)

// server exposes the chat channels, the OAuth callback, and operational
// endpoints over HTTP.
type server struct {
	web      *channel.Service
	whatsapp *channel.Service
	tokens   *persistence.TokenStore
	cache    *tools.DispatcherCache
	shop     config.ShopConfig
	logger   *logx.Logger
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(2 * time.Minute))

	r.Post("/chat/{conversationID}/messages", s.handleChatMessage)
	r.Post("/whatsapp/webhook", s.handleWhatsAppWebhook)
	r.Post("/auth/callback", s.handleAuthCallback)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	OrderForm     map[string]any `json:"order_form,omitempty"`
	ConversationID string        `json:"conversation_id"`
	Reply          string        `json:"reply"`
	AuthURL        string        `json:"auth_url,omitempty"`
	HandoffReason  string        `json:"handoff_reason,omitempty"`
	Handoff        bool          `json:"handoff,omitempty"`
}

func (s *server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"message\": \"...\"}")
		return
	}

	if s.web == nil {
		writeError(w, http.StatusNotFound, "web channel is disabled")
		return
	}
	s.respondWithReply(w, r, s.web, conversationID, req.Message)
}

// whatsappInbound is the parsed inbound webhook shape. Signature checking
// and media handling live in the messaging gateway in front of us.
type whatsappInbound struct {
	From string `json:"from"` // phone number, used as the conversation key
	Text string `json:"text"`
}

func (s *server) handleWhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	var inbound whatsappInbound
	if err := json.NewDecoder(r.Body).Decode(&inbound); err != nil || inbound.From == "" || inbound.Text == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"from\": \"...\", \"text\": \"...\"}")
		return
	}

	if s.whatsapp == nil {
		writeError(w, http.StatusNotFound, "whatsapp channel is disabled")
		return
	}
	conversationID := config.ChannelWhatsApp + ":" + inbound.From
	s.respondWithReply(w, r, s.whatsapp, conversationID, inbound.Text)
}

func (s *server) respondWithReply(w http.ResponseWriter, r *http.Request, svc *channel.Service, conversationID, message string) {
	reply, err := svc.HandleMessage(r.Context(), conversationID, message)
	if err != nil {
		s.logger.Error("turn failed for %s: %v", conversationID, err)
		writeError(w, http.StatusInternalServerError, "something went wrong handling the message")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: conversationID,
		Reply:          reply.Text,
		AuthURL:        reply.AuthURL,
		Handoff:        reply.Handoff,
		HandoffReason:  reply.HandoffReason,
		OrderForm:      reply.OrderForm,
	})
}

// authCallback carries the token the OAuth collaborator obtained for a
// conversation. The code-for-token exchange happens upstream.
type authCallback struct {
	ConversationID string `json:"conversation_id"`
	AccessToken    string `json:"access_token"`
	ExpiresIn      int    `json:"expires_in,omitempty"` // seconds
}

func (s *server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	var cb authCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil || cb.ConversationID == "" || cb.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "conversation_id and access_token are required")
		return
	}

	var expiresAt time.Time
	if cb.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(cb.ExpiresIn) * time.Second)
	}
	if err := s.tokens.StoreToken(r.Context(), cb.ConversationID, cb.AccessToken, expiresAt); err != nil {
		s.logger.Error("failed to store token for %s: %v", cb.ConversationID, err)
		writeError(w, http.StatusInternalServerError, "could not store token")
		return
	}

	// the cached dispatcher may hold an adapter that already failed auth;
	// drop it so the next turn picks up the fresh token
	s.cache.Invalidate(tools.CacheKey{ShopDomain: s.shop.Domain, ConversationID: cb.ConversationID})
	s.logger.Info("🔐 stored customer token for %s", cb.ConversationID)

	// replay the suspended message, if the conversation has one
	for _, svc := range []*channel.Service{s.web, s.whatsapp} {
		if svc == nil {
			continue
		}
		reply, err := svc.Resume(r.Context(), cb.ConversationID)
		if err != nil {
			s.logger.Warn("resume after auth failed for %s: %v", cb.ConversationID, err)
			continue
		}
		if reply != nil {
			writeJSON(w, http.StatusOK, chatResponse{ConversationID: cb.ConversationID, Reply: reply.Text})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
