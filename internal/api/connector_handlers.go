package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/platform"
	"github.com/AI-static/Aether/internal/stream"
)

const defaultSearchLimit = 20

// envelope is the response shell the acquisition routes share. Code zero
// means success; error responses repeat the HTTP status in Code so clients
// that only read the body still see the class of failure.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeEnvelope(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Message: message, Data: data})
}

func writeEnvelopeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Code: status, Message: message})
}

// envelopeFailure maps a domain error onto the envelope. Server-side classes
// get logged; client mistakes do not.
func (s *Server) envelopeFailure(w http.ResponseWriter, op string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.deps.Logger.Error(op, zap.Error(err))
	}
	writeEnvelopeError(w, status, err.Error())
}

// parsePlatform validates an optional platform name. Empty means detect per
// URL, which only the batch routes support.
func parsePlatform(raw string) (platform.Platform, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return platform.Parse(raw)
}

func requirePlatform(raw string) (platform.Platform, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("platform is required")
	}
	return platform.Parse(raw)
}

type extractRequest struct {
	URLs        []string `json:"urls"`
	Platform    string   `json:"platform,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
}

// extract streams one result frame per URL. The transport commits to
// text/event-stream before the request is even parsed, so validation
// failures ride the stream as error frames, exactly like mid-batch ones.
func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	sw := stream.NewWriter(w)

	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.streamAbort(sw, "invalid JSON", err)
		return
	}
	pf, err := parsePlatform(req.Platform)
	if err != nil {
		s.streamAbort(sw, "invalid platform", err)
		return
	}

	results, err := s.deps.Router.Extract(r.Context(), req.URLs, pf, req.Concurrency)
	if err != nil {
		s.streamAbort(sw, "extraction failed to start", err)
		return
	}

	if err := sw.Send(stream.Start("extraction started", map[string]any{
		"urls":        req.URLs,
		"platform":    req.Platform,
		"url_count":   len(req.URLs),
		"concurrency": req.Concurrency,
	})); err != nil {
		return
	}

	total, succeeded := 0, 0
	for res := range results {
		total++
		if res.Success {
			succeeded++
		}
		frame := stream.Result(res, stream.Progress{
			Current:      total,
			Total:        len(req.URLs),
			SuccessCount: succeeded,
		})
		if err := sw.Send(frame); err != nil {
			s.deps.Logger.Debug("extract stream client gone", zap.Error(err))
			return
		}
	}

	if err := sw.Send(stream.Complete(
		fmt.Sprintf("extraction complete: %d/%d succeeded", succeeded, total),
		stream.Summary{Total: total, SuccessCount: succeeded, FailedCount: total - succeeded},
	)); err != nil {
		s.deps.Logger.Debug("extract stream client gone", zap.Error(err))
	}
}

type monitorRequest struct {
	URLs     []string `json:"urls"`
	Platform string   `json:"platform,omitempty"`
	// CheckInterval is the polling cadence in seconds; zero applies the
	// configured default and the router enforces its floor either way.
	CheckInterval int `json:"check_interval,omitempty"`
}

// monitor acknowledges the subscription, then emits one change frame per
// detected difference until the client disconnects.
func (s *Server) monitor(w http.ResponseWriter, r *http.Request) {
	sw := stream.NewWriter(w)

	var req monitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.streamAbort(sw, "invalid JSON", err)
		return
	}
	pf, err := parsePlatform(req.Platform)
	if err != nil {
		s.streamAbort(sw, "invalid platform", err)
		return
	}
	intervalSec := req.CheckInterval
	if intervalSec <= 0 {
		intervalSec = s.cfg.Monitor.DefaultIntervalSec
	}

	events, err := s.deps.Router.Monitor(r.Context(), req.URLs, pf, time.Duration(intervalSec)*time.Second)
	if err != nil {
		s.streamAbort(sw, "monitoring failed to start", err)
		return
	}

	if err := sw.Send(stream.Ack("monitoring started", map[string]any{
		"urls":           req.URLs,
		"platform":       req.Platform,
		"url_count":      len(req.URLs),
		"check_interval": intervalSec,
	})); err != nil {
		return
	}

	for evt := range events {
		if err := sw.Send(stream.Change(evt)); err != nil {
			s.deps.Logger.Debug("monitor stream client gone", zap.Error(err))
			return
		}
	}
}

// streamAbort reports a failure as the stream's only frame.
func (s *Server) streamAbort(sw *stream.Writer, message string, err error) {
	s.deps.Logger.Warn("stream aborted", zap.String("reason", message), zap.Error(err))
	if sendErr := sw.Send(stream.Error(message, err.Error())); sendErr != nil {
		s.deps.Logger.Debug("stream error frame dropped", zap.Error(sendErr))
	}
}

type harvestRequest struct {
	Platform string `json:"platform"`
	UserID   string `json:"user_id"`
	Limit    int    `json:"limit,omitempty"`
}

func (s *Server) harvest(w http.ResponseWriter, r *http.Request) {
	var req harvestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	pf, err := requirePlatform(req.Platform)
	if err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := s.deps.Router.Harvest(r.Context(), pf, req.UserID, content.HarvestOptions{Limit: req.Limit})
	if err != nil {
		s.envelopeFailure(w, "harvest failed", err)
		return
	}
	writeEnvelope(w, fmt.Sprintf("harvest complete: %d items", len(results)), map[string]any{
		"results": results,
		"total":   len(results),
	})
}

type publishRequest struct {
	Platform string `json:"platform"`
	content.PublishRequest
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	pf, err := requirePlatform(req.Platform)
	if err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := s.deps.Router.Publish(r.Context(), pf, req.PublishRequest)
	if err != nil {
		s.envelopeFailure(w, "publish failed", err)
		return
	}
	if !receipt.Success {
		// The platform answered but rejected the content; surface its receipt
		// under a 200 so callers can distinguish rejection from transport
		// failure.
		writeJSON(w, http.StatusOK, envelope{
			Code:    http.StatusInternalServerError,
			Message: "publish failed",
			Data:    receipt,
		})
		return
	}
	writeEnvelope(w, "publish succeeded", receipt)
}

type loginRequest struct {
	Platform string           `json:"platform"`
	Source   string           `json:"source"`
	SourceID string           `json:"source_id"`
	Cookies  []content.Cookie `json:"cookies"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	pf, err := requirePlatform(req.Platform)
	if err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Source == "" || req.SourceID == "" {
		writeEnvelopeError(w, http.StatusBadRequest, "source and source_id are required")
		return
	}
	contextID, err := s.deps.Router.Login(r.Context(), pf, content.LoginCredentials{
		Cookies:  req.Cookies,
		Source:   req.Source,
		SourceID: req.SourceID,
	})
	if err != nil {
		s.envelopeFailure(w, "login failed", err)
		return
	}
	writeEnvelope(w, "login succeeded", map[string]any{
		"context_id": contextID,
		"source":     req.Source,
		"source_id":  req.SourceID,
	})
}

// platformDetails carries the human-readable listing metadata per platform.
var platformDetails = map[platform.Platform]struct {
	displayName string
	description string
}{
	platform.Xiaohongshu: {
		displayName: "Xiaohongshu",
		description: "Xiaohongshu connector: extraction, publishing, harvest, and cookie login.",
	},
	platform.Wechat: {
		displayName: "WeChat Official Accounts",
		description: "WeChat article connector: summary extraction and harvest.",
	},
	platform.Generic: {
		displayName: "Generic web",
		description: "Generic connector: content extraction for arbitrary sites.",
	},
}

func (s *Server) platforms(w http.ResponseWriter, _ *http.Request) {
	infos := s.deps.Router.Platforms()
	list := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		entry := map[string]any{
			"name":     info.Platform,
			"features": info.Capabilities,
		}
		if details, ok := platformDetails[info.Platform]; ok {
			entry["display_name"] = details.displayName
			entry["description"] = details.description
		}
		list = append(list, entry)
	}
	writeEnvelope(w, "platform list retrieved", map[string]any{
		"platforms": list,
		"total":     len(list),
	})
}

type searchRequest struct {
	Platform string `json:"platform"`
	Keyword  string `json:"keyword"`
	Limit    int    `json:"limit,omitempty"`
}

func (s *Server) searchAndExtract(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	pf, err := requirePlatform(req.Platform)
	if err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}
	results, err := s.deps.Router.SearchAndExtract(r.Context(), pf, req.Keyword, req.Limit)
	if err != nil {
		s.envelopeFailure(w, "search failed", err)
		return
	}
	writeEnvelope(w, fmt.Sprintf("search complete: %d results", len(results)), map[string]any{
		"results": results,
		"total":   len(results),
		"keyword": req.Keyword,
	})
}

type creatorRequest struct {
	Platform  string `json:"platform"`
	CreatorID string `json:"creator_id"`
	Limit     int    `json:"limit,omitempty"`
}

func (s *Server) extractByCreator(w http.ResponseWriter, r *http.Request) {
	var req creatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	pf, err := requirePlatform(req.Platform)
	if err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := s.deps.Router.ExtractByCreator(r.Context(), pf, req.CreatorID, req.Limit)
	if err != nil {
		s.envelopeFailure(w, "creator extraction failed", err)
		return
	}
	writeEnvelope(w, fmt.Sprintf("extraction complete: %d items", len(results)), map[string]any{
		"results": results,
		"total":   len(results),
	})
}
