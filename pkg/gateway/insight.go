package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eyecheck/gateway/pkg/cache"
	"github.com/eyecheck/gateway/pkg/locale"
	"github.com/eyecheck/gateway/pkg/models"
	"github.com/eyecheck/gateway/pkg/pipeline"
	"github.com/eyecheck/gateway/pkg/telemetry"
)

type insightOutcome struct {
	data   any
	status pipeline.Status
}

// handleInsight serves a cached-or-fresh JSON insight. Identical requests
// share one cache entry; concurrent misses share one upstream call.
func (s *Server) handleInsight(in insight) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := s.requestLog(r).WithField("endpoint", in.name)

		var body map[string]any
		if err := decodeJSON(w, r, &body); err != nil || body == nil {
			log.WithError(err).Debug("bad insight body")
			writeJSONError(w, http.StatusBadRequest, locale.T("", locale.InvalidRequest))
			return
		}
		rawLoc, _ := body["locale"].(string)
		loc := locale.Normalize(rawLoc)
		model, _ := body["model"].(string)

		id := s.deps.Identity.Resolve(r)
		if !s.admit(w, r, id, in.name, loc) {
			return
		}

		key := cache.GenerateKey(in.name, loc, model, body)
		if data, ok := s.insights.Get(r.Context(), key); ok {
			writeJSON(w, http.StatusOK, models.InsightResponse{FromCache: true, Data: data})
			return
		}

		v, _, _ := s.flight.Do(key, func() (any, error) {
			// The first caller's cancellation must not fail the callers
			// sharing this flight.
			ctx := context.WithoutCancel(r.Context())
			return s.generateInsight(ctx, in, body, loc, model, id.UserID(), key, log), nil
		})
		out := v.(insightOutcome)
		if out.status != pipeline.StatusOK {
			writeJSONError(w, http.StatusServiceUnavailable, locale.T(loc, locale.Busy))
			return
		}
		writeJSON(w, http.StatusOK, models.InsightResponse{Data: out.data})
	}
}

func (s *Server) generateInsight(ctx context.Context, in insight, body map[string]any, loc, model, userID, key string, log logrus.FieldLogger) insightOutcome {
	start := time.Now()
	user := in.user(body)
	res := s.deps.Pipeline.GenerateJSON(ctx, pipeline.Request{
		Mode:   pipeline.SinglePass,
		System: in.system(loc),
		User:   user,
		Locale: loc,
		Model:  model,
	}, in.shape, func(raw string) any {
		return in.fallback(body, raw, loc)
	})

	if res.Status != pipeline.StatusUnavailable {
		tokensIn, tokensOut := res.Usage.PromptTokens, res.Usage.CompletionTokens
		if res.Usage.TotalTokens == 0 {
			tokensIn = telemetry.EstimateTokens(in.system(loc) + user)
			tokensOut = telemetry.EstimateTokens(res.Text)
		}
		s.deps.Usage.Record(models.UsageRecord{
			UserID:    userID,
			Service:   "eyegate",
			Endpoint:  in.name,
			Model:     res.Model,
			Provider:  res.Provider,
			TokensIn:  tokensIn,
			TokensOut: tokensOut,
			LatencyMs: time.Since(start).Milliseconds(),
			Status:    string(res.Status),
		})
	}
	if !res.OK() {
		log.WithField("status", res.Status).Warn("insight generation failed")
		return insightOutcome{status: res.Status}
	}
	if res.Fallback {
		log.Info("serving fallback insight")
	} else {
		s.insights.Set(ctx, key, res.Data, in.ttl)
	}
	return insightOutcome{data: res.Data, status: res.Status}
}
