package gateway

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/eyecheck/gateway/pkg/conversation"
	"github.com/eyecheck/gateway/pkg/locale"
	"github.com/eyecheck/gateway/pkg/models"
	"github.com/eyecheck/gateway/pkg/pipeline"
	"github.com/eyecheck/gateway/pkg/stream"
)

var validate = validator.New()

// handleChat answers one chat message over SSE.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := s.requestLog(r)

	var req models.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		log.WithError(err).Debug("bad chat body")
		writeJSONError(w, http.StatusBadRequest, locale.T("", locale.InvalidRequest))
		return
	}
	loc := locale.Normalize(req.Locale)

	id := s.deps.Identity.Resolve(r)
	if !s.admit(w, r, id, "chat", loc) {
		return
	}
	if err := validate.Struct(req); err != nil {
		log.WithError(err).Debug("invalid chat request")
		writeJSONError(w, http.StatusBadRequest, locale.T(loc, locale.InvalidRequest))
		return
	}

	opts := stream.Options{UserID: id.UserID(), Endpoint: "chat"}
	verdict := s.deps.Safety.Evaluate(req.Message, loc)
	s.deps.Metrics.SafetyVerdict(string(verdict.Category), verdict.Allowed)
	if !verdict.Allowed {
		log.WithFields(logrus.Fields{
			"identity": id.Key(),
			"category": verdict.Category,
		}).Info("chat message blocked by safety gate")
		s.deps.Responder.RespondText(ctx, w, verdict.Message, opts)
		return
	}
	if verdict.Category != models.SafetyNone {
		opts.Notice = &stream.NoticeData{Category: string(verdict.Category), Message: verdict.Message}
	}

	turns := s.deps.Conversations.Turns(ctx, id.Key())
	mode := pipeline.SinglePass
	if s.cfg.Generation.TwoPass {
		mode = pipeline.TwoPass
	}
	greq := pipeline.Request{
		Mode:        mode,
		System:      chatSystem(loc, turns, req),
		User:        req.Message,
		Locale:      loc,
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}

	sum := s.deps.Responder.Respond(ctx, w, s.deps.Pipeline, greq, opts)
	if !sum.OK() {
		log.WithFields(logrus.Fields{
			"status":      sum.Status,
			"delivery":    sum.Delivery,
			"interrupted": sum.Interrupted,
		}).Info("chat answer not stored")
		return
	}
	s.deps.Conversations.Append(ctx, id.Key(), req.Message, sum.Text)
}

// chatSystem builds the chat system prompt: base instructions, then the
// stored history, the user profile and the latest screening result.
func chatSystem(loc string, turns []models.ConversationTurn, req models.ChatRequest) string {
	parts := []string{locale.T(loc, locale.ChatSystem)}
	if h := conversation.RenderAsText(turns, loc); h != "" {
		parts = append(parts, h)
	}
	if len(req.UserProfile) > 0 {
		parts = append(parts, locale.T(loc, locale.ProfileHeader)+"\n"+renderProfile(req.UserProfile))
	}
	if p := strings.TrimSpace(req.PriorResultContext); p != "" {
		parts = append(parts, locale.T(loc, locale.PriorResult)+"\n"+p)
	}
	return strings.Join(parts, "\n\n")
}

func renderProfile(profile map[string]any) string {
	keys := make([]string, 0, len(profile))
	for k := range profile {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(k)
		b.WriteString(": ")
		if s, ok := profile[k].(string); ok {
			b.WriteString(s)
			continue
		}
		data, _ := json.Marshal(profile[k])
		b.Write(data)
	}
	return b.String()
}
